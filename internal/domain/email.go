package domain

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate はパッケージ内で共有するバリデータ。並行利用に対して安全。
var validate = validator.New()

// Email は構文検証済みのメールアドレス。
// ゼロ値は使用しないこと。ParseEmailで生成する。
type Email struct {
	value string
}

// ParseEmail は文字列を検証し、Emailを生成する。
// 大文字小文字や空白の正規化は行わない。
func ParseEmail(raw string) (Email, error) {
	if raw == "" {
		return Email{}, newValidationError("email", "must not be empty")
	}

	at := strings.LastIndex(raw, "@")
	if at <= 0 || at == len(raw)-1 {
		return Email{}, newValidationError("email", "must have the form local@domain")
	}

	if err := validate.Var(raw, "email"); err != nil {
		return Email{}, newValidationError("email", "is not a valid email address")
	}

	return Email{value: raw}, nil
}

// String はメールアドレスの文字列表現を返す。
func (e Email) String() string {
	return e.value
}

// IsZero はParseEmailを経ずに作られたゼロ値かどうかを返す。
func (e Email) IsZero() bool {
	return e.value == ""
}
