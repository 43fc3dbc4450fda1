package email

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError はメールAPIが2xx以外を返したことを表す。
type StatusError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("email API returned status %d: %s", e.StatusCode, e.Body)
}

// IsPermanent は再送しても成功しない送信エラーかどうかを判定する。
// メールAPIの4xx応答（408と429を除く）を恒久的な失敗とみなす。
func IsPermanent(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	switch code := statusErr.StatusCode; {
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return false
	case code >= 400 && code < 500:
		return true
	default:
		return false
	}
}
