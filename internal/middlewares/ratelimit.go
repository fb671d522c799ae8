package middlewares

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	c "homevault/internal/cache"
	"homevault/internal/helpers"

	"go.uber.org/zap"
)

const requestsPerMinute = 120

// RateLimit applies a fixed per-client request budget. The client identity
// is the remote address, or the first X-Forwarded-For hop when the request
// arrives through a trusted proxy.
func RateLimit(cache c.ICache, trustedProxies []string) func(next http.Handler) http.Handler {
	trusted := make(map[string]bool, len(trustedProxies))
	for _, proxy := range trustedProxies {
		trusted[proxy] = true
	}

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			identifier := clientIdentifier(r, trusted)

			retryAfter, err := cache.GetRateLimit(identifier, requestsPerMinute)
			if err != nil {
				zap.L().Error("Rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if retryAfter > 0 {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				helpers.RespondWithError(w, 429, []string{"TOO_MANY_REQUESTS"})
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

func clientIdentifier(r *http.Request, trustedProxies map[string]bool) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	if trustedProxies[host] {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			parts := strings.Split(forwarded, ",")
			return strings.TrimSpace(parts[0])
		}
	}

	return host
}
