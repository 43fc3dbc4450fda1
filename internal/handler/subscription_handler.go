package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/newsletter/internal/model"
	"github.com/hitoshi/newsletter/internal/subscription"
)

// maxFormBytes は購読フォームのリクエストボディ上限。
const maxFormBytes = 64 << 10

// SubscriptionServiceInterface は購読ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	// Subscribe はPendingの購読者を登録し、購読者IDを返す。
	Subscribe(ctx context.Context, form subscription.Form) (string, error)
}

// ConfirmationServiceInterface は購読確認ハンドラーが必要とするサービスインターフェース。
type ConfirmationServiceInterface interface {
	// Confirm はトークンに紐付く購読者をConfirmedにする。
	Confirm(ctx context.Context, token string) error
}

// SubscriptionHandler は購読登録と購読確認のHTTPハンドラー。
type SubscriptionHandler struct {
	subscriptions SubscriptionServiceInterface
	confirmations ConfirmationServiceInterface
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(subscriptions SubscriptionServiceInterface, confirmations ConfirmationServiceInterface) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptions: subscriptions,
		confirmations: confirmations,
	}
}

// subscribeResponse は購読登録のAPIレスポンス。
type subscribeResponse struct {
	ID string `json:"id"`
}

// Subscribe は購読者を登録し、確認メールを送信待ちにする。
// POST /subscriptions (application/x-www-form-urlencoded: name, email)
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("フォームの解析に失敗しました"))
		return
	}

	id, err := h.subscriptions.Subscribe(r.Context(), subscription.Form{
		Name:  r.PostForm.Get("name"),
		Email: r.PostForm.Get("email"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, subscribeResponse{ID: id})
}

// Confirm は確認リンクのトークンで購読を確定する。
// GET /subscriptions/confirm?subscription_token=...
func (h *SubscriptionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("subscription_token")
	if token == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("subscription_token が指定されていません"))
		return
	}

	if err := h.confirmations.Confirm(r.Context(), token); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
