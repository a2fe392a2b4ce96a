package middleware

import (
	"net"
	"net/http"

	"github.com/cassiomorais/eventpay/internal/domain/audit"
)

// RequestActor attaches an anonymous audit actor carrying the client address
// and user agent. Mount it after chi's RealIP so proxies are honoured.
func RequestActor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := audit.ContextWithActor(r.Context(), audit.Actor{
				IPAddress: clientIP(r),
				UserAgent: r.UserAgent(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
