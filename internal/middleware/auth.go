package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	appauth "github.com/bryanwahyu/snapsense/internal/application/auth"
	"github.com/bryanwahyu/snapsense/internal/domain/auth"
)

type contextKey string

const (
	SessionKey contextKey = "session"
)

// SessionResolver turns a bearer token into a session.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*auth.Session, error)
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// SessionAuth resolves the bearer token and stores the session in the context.
// With required=false a request without a token passes through anonymously;
// a token that is present but invalid is always rejected.
func SessionAuth(resolver SessionResolver, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				if required {
					writeError(w, http.StatusUnauthorized, "missing bearer token")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			s, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				if errors.Is(err, appauth.ErrNotReady) {
					writeError(w, http.StatusServiceUnavailable, "auth is not ready")
					return
				}
				writeError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), SessionKey, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the session set by SessionAuth, if any.
func SessionFromContext(ctx context.Context) (*auth.Session, bool) {
	s, ok := ctx.Value(SessionKey).(*auth.Session)
	return s, ok && s != nil
}

// UserIDFromContext returns the signed-in user id or "".
func UserIDFromContext(ctx context.Context) string {
	if s, ok := SessionFromContext(ctx); ok {
		return s.UserID
	}
	return ""
}

// ClientIP is the host part of RemoteAddr. Forwarding headers are only
// honoured when the router mounts chi's RealIP in front (server.trustProxy).
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
