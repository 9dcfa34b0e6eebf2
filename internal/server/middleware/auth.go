package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gosuda/boardsync/internal/auth"
)

// SessionCookie carries the session token for browsers. EventSource cannot
// set an Authorization header, so stream requests rely on it.
const SessionCookie = "session"

func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Try Bearer token first.
			if tok := extractBearer(r); tok != "" {
				if ctx, ok := authenticateJWT(r.Context(), tok, jwtSecret); ok {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
				if ctx, ok := authenticateJWT(r.Context(), c.Value, jwtSecret); ok {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`))
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}

func authenticateJWT(ctx context.Context, tokenStr, secret string) (context.Context, bool) {
	claims, err := auth.ValidateToken(secret, tokenStr)
	if err != nil {
		return ctx, false
	}
	return WithIdentity(ctx, claims.Identity()), true
}
