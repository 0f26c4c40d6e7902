package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// rateClass is one bucket of the per-client limit.
type rateClass struct {
	name  string
	limit int
}

// RateLimit limits each client address to limit requests per window. Trade
// submissions (POST .../open and .../close) draw from a separate, stricter
// bucket of limit/10. Responses carry X-RateLimit-* headers; a limiter
// error lets the request through.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	reads := rateClass{name: "api", limit: limit}
	trades := rateClass{name: "trade", limit: max(limit/10, 1)}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := reads
			if r.Method == http.MethodPost && isTradePath(r.URL.Path) {
				class = trades
			}
			client := clientAddr(r)

			quota, err := limiter.Take(r.Context(), class.name+":"+client, class.limit, window)
			if err != nil {
				logger.Warn("middleware: rate limiter unavailable",
					slog.String("bucket", class.name),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(class.limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(quota.Remaining))
			if quota.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retry := quota.ResetIn
			if retry <= 0 {
				retry = window
			}
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			h.Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","code":"RATE_LIMITED"}`))
		})
	}
}

func isTradePath(path string) bool {
	return strings.HasSuffix(path, "/open") || strings.HasSuffix(path, "/close")
}

// clientAddr prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection's remote host.
func clientAddr(r *http.Request) string {
	if fwd, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(fwd) != "" {
		return strings.TrimSpace(fwd)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
