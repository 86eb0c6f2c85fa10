package auth

import (
	"net/http"

	authlib "github.com/VinoGram/echo-couples-connection-app-sub000/internal/platform/auth"
)

// Middleware enforces bearer authentication everywhere except the probe
// and metrics endpoints.
type Middleware struct {
	inner authlib.Middleware
}

// NewMiddleware constructs Middleware.
func NewMiddleware(cfg Config) Middleware {
	skipper := func(r *http.Request) bool {
		switch r.URL.Path {
		case "/healthz", "/metrics":
			return true
		}
		return false
	}
	return Middleware{inner: authlib.NewMiddleware(cfg, skipper)}
}

// Wrap attaches authentication to next.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return m.inner.Wrap(next)
}
