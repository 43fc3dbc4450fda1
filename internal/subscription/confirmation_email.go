package subscription

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/hitoshi/newsletter/internal/domain"
)

// ConfirmationSubject は確認メールの件名。
const ConfirmationSubject = "Welcome!"

// ConfirmationEmail は購読確認メールの内容。
type ConfirmationEmail struct {
	Subject string
	Link    string
	HTML    string
	Text    string
}

// ConfirmationLink は確認リンクのURLを組み立てる。
func ConfirmationLink(baseURL, token string) string {
	return fmt.Sprintf("%s/subscriptions/confirm?subscription_token=%s",
		strings.TrimRight(baseURL, "/"), url.QueryEscape(token))
}

// RenderConfirmationEmail は確認リンクを埋め込んだHTML本文とテキスト本文を生成する。
// 両方の本文には同じリンクが含まれる。
func RenderConfirmationEmail(baseURL string, name domain.DisplayName, token string) ConfirmationEmail {
	link := ConfirmationLink(baseURL, token)
	return ConfirmationEmail{
		Subject: ConfirmationSubject,
		Link:    link,
		HTML: fmt.Sprintf(
			`Welcome to the newsletter, %s! Click <a href="%s">here</a> to confirm your subscription.`,
			html.EscapeString(name.String()), link),
		Text: fmt.Sprintf(
			"Welcome to the newsletter, %s! Click here to confirm your subscription: %s",
			name.String(), link),
	}
}
