package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Skipper reports whether a request may pass without a token.
type Skipper func(r *http.Request) bool

// PublicPaths lets health checks and metric scrapes through unauthenticated.
func PublicPaths(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	}
	return false
}

// Middleware rejects requests without a valid bearer token and attaches the
// verified claims to the request context.
type Middleware struct {
	cfg  Config
	skip Skipper
}

// NewMiddleware constructs a Middleware. skip may be nil.
func NewMiddleware(cfg Config, skip Skipper) Middleware {
	return Middleware{cfg: cfg, skip: skip}
}

// Wrap applies the middleware to next.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip != nil && m.skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := bearerToken(r.Header.Get("Authorization"))
		var claims *Claims
		if err == nil {
			claims, err = Parse(token, m.cfg)
		}
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="stats"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"type": "unauthorized", "message": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", ErrMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrInvalidToken
	}
	return token, nil
}
