// Package logger はslogによるJSON構造化ログの設定とログ用ヘルパーを提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/samber/oops"
)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	return SetupWithLevel(w, slog.LevelInfo)
}

// SetupWithLevel は指定したレベル以上を出力するJSONロガーを生成する。
func SetupWithLevel(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer, level slog.Level) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(SetupWithLevel(w, level))
}

// ParseLevel はLOG_LEVELの値をslog.Levelに変換する。
// 未知の値はInfoとして扱う。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MaskEmail はログ出力用にメールアドレスのローカル部を伏せる。
// "ursula@domain.com" は "u***@domain.com" になる。
func MaskEmail(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}

// ErrorAttr はエラーを"error"グループの属性に変換する。
// samber/oopsのエラーが含まれる場合はドメインとコンテキストも出力する。
func ErrorAttr(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}

	attrs := []any{slog.String("message", err.Error())}

	if oopsErr, ok := oops.AsOops(err); ok {
		if d := oopsErr.Domain(); d != "" {
			attrs = append(attrs, slog.String("domain", d))
		}
		ctx := oopsErr.Context()
		keys := make([]string, 0, len(ctx))
		for k := range ctx {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			attrs = append(attrs, slog.Any(k, ctx[k]))
		}
	}

	return slog.Group("error", attrs...)
}
