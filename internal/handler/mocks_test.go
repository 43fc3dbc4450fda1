package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/newsletter/internal/auth"
	"github.com/hitoshi/newsletter/internal/newsletter"
	"github.com/hitoshi/newsletter/internal/subscription"
)

// --- モック定義 ---

// mockSubscriptionService はSubscriptionServiceInterfaceのモック実装。
type mockSubscriptionService struct {
	subscribeFn func(ctx context.Context, form subscription.Form) (string, error)
	calls       int
}

func (m *mockSubscriptionService) Subscribe(ctx context.Context, form subscription.Form) (string, error) {
	m.calls++
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, form)
	}
	return "", nil
}

// mockConfirmationService はConfirmationServiceInterfaceのモック実装。
type mockConfirmationService struct {
	confirmFn func(ctx context.Context, token string) error
	calls     int
}

func (m *mockConfirmationService) Confirm(ctx context.Context, token string) error {
	m.calls++
	if m.confirmFn != nil {
		return m.confirmFn(ctx, token)
	}
	return nil
}

// mockNewsletterService はNewsletterServiceInterfaceのモック実装。
type mockNewsletterService struct {
	publishFn func(ctx context.Context, issue newsletter.Issue, creds auth.Credentials) (*publishResponse, error)
	calls     int
}

func (m *mockNewsletterService) Publish(ctx context.Context, issue newsletter.Issue, creds auth.Credentials) (*publishResponse, error) {
	m.calls++
	if m.publishFn != nil {
		return m.publishFn(ctx, issue, creds)
	}
	return &publishResponse{}, nil
}

// stubVerifier はnewsletter.Verifierのモック実装。
type stubVerifier struct {
	verifyFn func(ctx context.Context, username, password string) (string, error)
}

func (m *stubVerifier) Verify(ctx context.Context, username, password string) (string, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, username, password)
	}
	return "user-1", nil
}

// stubLister はnewsletter.RecipientListerのモック実装。
type stubLister struct {
	emails []string
}

func (m *stubLister) ListConfirmedEmails(ctx context.Context) ([]string, error) {
	return m.emails, nil
}

// --- テストヘルパー ---

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}
