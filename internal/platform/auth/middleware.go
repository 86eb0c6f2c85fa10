package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Skipper lets requests such as probes through without a token.
type Skipper func(r *http.Request) bool

// Middleware rejects requests without a valid bearer token and stores the
// claims of accepted ones on the request context.
type Middleware struct {
	cfg  Config
	skip Skipper
}

// NewMiddleware constructs a Middleware. skipper may be nil.
func NewMiddleware(cfg Config, skipper Skipper) Middleware {
	if skipper == nil {
		skipper = func(*http.Request) bool { return false }
	}
	return Middleware{cfg: cfg, skip: skipper}
}

// Wrap attaches authentication to next. CORS preflights always pass.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || m.skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := Parse(bearerToken(r), m.cfg)
		if err != nil {
			unauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// bearerToken returns the token from "Authorization: Bearer <token>", or ""
// when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return token
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="couples"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"type": "unauthorized", "error": err.Error()})
}
