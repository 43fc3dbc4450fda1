package model

// Credential はニュースレター配信者の認証情報を表す。
// PasswordHash はargon2idのPHC形式文字列。
type Credential struct {
	UserID       string
	Username     string
	PasswordHash string
}
