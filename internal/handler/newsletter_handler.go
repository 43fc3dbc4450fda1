package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/newsletter/internal/auth"
	"github.com/hitoshi/newsletter/internal/model"
	"github.com/hitoshi/newsletter/internal/newsletter"
)

// maxNewsletterBytes はニュースレター配信リクエストのボディ上限。
const maxNewsletterBytes = 1 << 20

// basicRealm は配信APIのBasic認証レルム。
const basicRealm = `Basic realm="publish"`

// NewsletterServiceInterface はニュースレターハンドラーが必要とするサービスインターフェース。
type NewsletterServiceInterface interface {
	// Publish は認証後に確認済みの全購読者へ配信し、集計結果を返す。
	Publish(ctx context.Context, issue newsletter.Issue, creds auth.Credentials) (*publishResponse, error)
}

// NewsletterHandler はニュースレター配信のHTTPハンドラー。
type NewsletterHandler struct {
	service  NewsletterServiceInterface
	validate *validator.Validate
}

// NewNewsletterHandler はNewsletterHandlerを生成する。
func NewNewsletterHandler(service NewsletterServiceInterface) *NewsletterHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &NewsletterHandler{service: service, validate: v}
}

// publishRequest はニュースレター配信リクエストのボディ。
// 各フィールドはキーの有無のみを検証し、空文字列は受け付ける。
type publishRequest struct {
	Title   *string         `json:"title" validate:"required"`
	Content *publishContent `json:"content" validate:"required"`
}

type publishContent struct {
	HTML *string `json:"html" validate:"required"`
	Text *string `json:"text" validate:"required"`
}

// publishFailure は送信に失敗した宛先と失敗の分類（permanent または transient）。宛先はマスク済み。
type publishFailure struct {
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

// publishResponse はニュースレター配信のAPIレスポンス。
type publishResponse struct {
	Recipients int              `json:"recipients"`
	Delivered  int              `json:"delivered"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Failures   []publishFailure `json:"failures,omitempty"`
}

// Publish はニュースレターを確認済みの全購読者へ配信する。
// POST /newsletters (Basic認証)
func (h *NewsletterHandler) Publish(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxNewsletterBytes)

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(describeValidationError(err)))
		return
	}

	creds, err := auth.ParseBasicAuth(r.Header.Get("Authorization"))
	if err != nil {
		writeUnauthorized(w, model.NewAuthError(err.Error()))
		return
	}

	resp, err := h.service.Publish(r.Context(), newsletter.Issue{
		Title: *req.Title,
		HTML:  *req.Content.HTML,
		Text:  *req.Content.Text,
	}, creds)
	if err != nil {
		if model.IsAuthError(err) {
			writeUnauthorized(w, nil)
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeUnauthorized はWWW-Authenticateヘッダー付きで401を返す。
func writeUnauthorized(w http.ResponseWriter, apiErr *model.APIError) {
	if apiErr == nil {
		apiErr = model.NewAuthError("invalid credentials")
	}
	w.Header().Set("WWW-Authenticate", basicRealm)
	writeAPIErrorResponse(w, http.StatusUnauthorized, apiErr)
}

// describeValidationError は検証エラーを不足しているフィールド名の一覧に変換する。
func describeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, jsonFieldPath(fe.Namespace()))
	}
	return strings.Join(fields, ", ") + " は必須です"
}

// jsonFieldPath は"publishRequest.content.html"から先頭の型名を取り除く。
func jsonFieldPath(namespace string) string {
	if _, path, found := strings.Cut(namespace, "."); found {
		return path
	}
	return namespace
}
