package domain

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

// MaxDisplayNameGraphemes は表示名として許可する最大書記素クラスタ数。
const MaxDisplayNameGraphemes = 256

// DisplayName は検証済みの購読者表示名。
type DisplayName struct {
	value string
}

// ParseDisplayName は文字列を検証し、DisplayNameを生成する。
// 以下のいずれかに該当する場合はValidationErrorを返す。
//   - 空文字列または空白のみ
//   - 書記素クラスタ数がMaxDisplayNameGraphemesを超える
//   - Unicodeの句読点(P)、記号(S)、制御/その他(C)カテゴリの文字を含む
func ParseDisplayName(raw string) (DisplayName, error) {
	if strings.TrimSpace(raw) == "" {
		return DisplayName{}, newValidationError("name", "must not be empty")
	}

	if n := uniseg.GraphemeClusterCount(raw); n > MaxDisplayNameGraphemes {
		return DisplayName{}, newValidationError("name",
			fmt.Sprintf("must be at most %d characters, got %d", MaxDisplayNameGraphemes, n))
	}

	for _, r := range raw {
		if isForbiddenNameRune(r) {
			return DisplayName{}, newValidationError("name",
				fmt.Sprintf("contains forbidden character %q", r))
		}
	}

	return DisplayName{value: raw}, nil
}

func isForbiddenNameRune(r rune) bool {
	return unicode.In(r, unicode.P, unicode.S, unicode.C)
}

// String は表示名の文字列表現を返す。
func (n DisplayName) String() string {
	return n.value
}
