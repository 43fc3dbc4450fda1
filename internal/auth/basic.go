package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrMissingCredentials はAuthorizationヘッダーが無いか解釈できないことを表す。
var ErrMissingCredentials = errors.New("missing or malformed basic credentials")

// Credentials はBasic認証ヘッダーから取り出したユーザー名とパスワード。
type Credentials struct {
	Username string
	Password string
}

// ParseBasicAuth はAuthorizationヘッダーの値からCredentialsを取り出す。
// スキームがBasicでない、base64として不正、UTF-8として不正、
// ":"による区切りが無い、いずれかの要素が空の場合はErrMissingCredentialsを返す。
func ParseBasicAuth(header string) (Credentials, error) {
	if header == "" {
		return Credentials{}, ErrMissingCredentials
	}

	scheme, encoded, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return Credentials{}, ErrMissingCredentials
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return Credentials{}, ErrMissingCredentials
	}
	if !utf8.Valid(decoded) {
		return Credentials{}, ErrMissingCredentials
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok || username == "" || password == "" {
		return Credentials{}, ErrMissingCredentials
	}

	return Credentials{Username: username, Password: password}, nil
}
