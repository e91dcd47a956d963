package sigauth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

var sessionKey contextKey

// Middleware returns a chi-compatible middleware enforcing bearer session
// credentials. The verified Session is injected into the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}

		session, err := a.VerifyToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			http.Error(w, "invalid or expired session credential", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

// WithSession attaches a verified session to a context.
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// FromContext extracts the verified session from a request context.
func FromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionKey).(*Session)
	return session, ok
}
