package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/newsletter/internal/domain"
)

// postmarkTokenHeader はPostmark APIの認証トークンを渡すヘッダー名。
const postmarkTokenHeader = "X-Postmark-Server-Token"

// PostmarkClient はPostmark互換のHTTP APIでメールを送信する。
type PostmarkClient struct {
	httpClient *http.Client
	baseURL    string
	sender     domain.Email
	authToken  string
}

// NewPostmarkClient はPostmarkClientを生成する。
// timeoutはリクエスト全体（接続から応答本文の読み取りまで）に適用される。
func NewPostmarkClient(baseURL string, sender domain.Email, authToken string, timeout time.Duration) *PostmarkClient {
	return &PostmarkClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		sender:     sender,
		authToken:  authToken,
	}
}

type postmarkRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Send は {baseURL}/email にJSONをPOSTする。2xx以外の応答はエラーとなる。
func (c *PostmarkClient) Send(ctx context.Context, to domain.Email, subject, htmlBody, textBody string) error {
	body, err := json.Marshal(postmarkRequest{
		From:     c.sender.String(),
		To:       to.String(),
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return fmt.Errorf("failed to encode email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(postmarkTokenHeader, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	// keep-aliveで接続を再利用できるよう本文を読み捨てる
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

var _ Client = (*PostmarkClient)(nil)
