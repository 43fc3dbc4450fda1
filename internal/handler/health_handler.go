package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/newsletter/internal/database"
	"github.com/hitoshi/newsletter/internal/logger"
)

// healthPingTimeout はヘルスチェック時のDB到達確認のタイムアウト。
const healthPingTimeout = 2 * time.Second

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db database.Pinger
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db database.Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

type healthResponse struct {
	Status string `json:"status"`
}

// Check はDBに到達できれば200、できなければ503を返す。
// GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if err := database.Ping(r.Context(), h.db, healthPingTimeout); err != nil {
		slog.Warn("ヘルスチェックに失敗しました", logger.ErrorAttr(err))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// PingerFunc は関数をdatabase.Pingerとして扱うためのアダプタ。
type PingerFunc func(ctx context.Context) error

// PingContext はf自身を呼び出す。
func (f PingerFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}
