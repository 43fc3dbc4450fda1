package model

import "time"

// OutboxStatus は送信待ちメールの状態を表す。
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusDelivered OutboxStatus = "delivered"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// OutboxEmail は業務データと同一トランザクションで記録される送信待ちメール。
// ワーカーが非同期に送信し、結果に応じて状態を更新する。
type OutboxEmail struct {
	ID            string
	Recipient     string
	Subject       string
	HTMLBody      string
	TextBody      string
	Status        OutboxStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}
