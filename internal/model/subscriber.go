package model

import "time"

// SubscriptionStatus は購読者のライフサイクル状態を表す。
// Pending から Confirmed への一方向にのみ遷移する。
type SubscriptionStatus string

const (
	// StatusPending は確認メールのリンクが未クリックの状態。
	StatusPending SubscriptionStatus = "pending_confirmation"
	// StatusConfirmed は購読が確認済みの状態。
	StatusConfirmed SubscriptionStatus = "confirmed"
)

// Subscriber はメーリングリストの購読者を表す。
// Email と Name は domain パッケージで検証済みの値を文字列で保持する。
type Subscriber struct {
	ID           string
	Email        string
	Name         string
	SubscribedAt time.Time
	Status       SubscriptionStatus
}

// ConfirmationToken は購読確認リンクに埋め込むトークン。
type ConfirmationToken struct {
	Token        string
	SubscriberID string
}
