package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/newsletter/internal/domain"
)

func mustEmail(t *testing.T, raw string) domain.Email {
	t.Helper()
	e, err := domain.ParseEmail(raw)
	if err != nil {
		t.Fatalf("ParseEmail(%q): %v", raw, err)
	}
	return e
}

func TestPostmarkClient_Send_RequestFormat(t *testing.T) {
	var got postmarkRequest
	var gotToken, gotPath, gotMethod, gotContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewPostmarkClient(srv.URL+"/", mustEmail(t, "sender@example.com"), "server-token", time.Second)

	err := c.Send(context.Background(), mustEmail(t, "ursula@domain.com"), "Welcome!", "<p>hi</p>", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotPath != "/email" {
		t.Errorf("path = %q, want /email", gotPath)
	}
	if gotToken != "server-token" {
		t.Errorf("token header = %q, want %q", gotToken, "server-token")
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	want := postmarkRequest{
		From: "sender@example.com", To: "ursula@domain.com",
		Subject: "Welcome!", HtmlBody: "<p>hi</p>", TextBody: "hi",
	}
	if got != want {
		t.Errorf("body = %+v, want %+v", got, want)
	}
}

func TestPostmarkClient_Send_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"ErrorCode":500}`))
	}))
	defer srv.Close()

	c := NewPostmarkClient(srv.URL, mustEmail(t, "sender@example.com"), "token", time.Second)

	err := c.Send(context.Background(), mustEmail(t, "ursula@domain.com"), "s", "h", "t")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", statusErr.StatusCode)
	}
}

// 応答がタイムアウトを超えた場合はエラーになること
func TestPostmarkClient_Send_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	c := NewPostmarkClient(srv.URL, mustEmail(t, "sender@example.com"), "token", 50*time.Millisecond)

	start := time.Now()
	err := c.Send(context.Background(), mustEmail(t, "ursula@domain.com"), "s", "h", "t")
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Send took %v, expected to give up near the timeout", elapsed)
	}
}
