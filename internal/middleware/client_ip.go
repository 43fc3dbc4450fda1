package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP はリクエスト元のIPアドレスを返す。
// X-Forwarded-Forは参照しない。リバースプロキシ配下ではchiのRealIPミドルウェアで
// 事前にRemoteAddrを置き換えておく。
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
