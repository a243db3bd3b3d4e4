package server

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"efileflow/internal/metrics"
	"efileflow/internal/ratelimit"
)

// newRateLimitMiddleware throttles API calls per authenticated actor, or per
// client address for anonymous calls. It must run after authentication.
func newRateLimitMiddleware(basePath string, limiter ratelimit.Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			key := "ip:" + clientIP(req)
			if p, ok := principalFromContext(req.Context()); ok && p.ActorID != "" {
				key = "actor:" + p.ActorID
			}
			if !limiter.Allow(req.Context(), key) {
				metrics.ObserveRateLimited()
				logger.Info("rate limited", zap.String("key", key), zap.String("path", req.URL.Path))
				respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "too many requests", nil))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
