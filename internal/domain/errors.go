// Package domain は購読者に関する検証済みの値型を提供する。
// Email と DisplayName は Parse 関数を通してのみ生成でき、
// 値が存在すること自体が検証済みであることを意味する。
package domain

import "fmt"

// ValidationError は入力値がドメインの制約を満たさないことを表す。
type ValidationError struct {
	Field  string // 対象フィールド: email, name
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
