package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/eventhub/partner-portal/internal/domain"
	"github.com/eventhub/partner-portal/internal/session"
	"github.com/eventhub/partner-portal/pkg/response"
)

type contextKey string

const (
	PrincipalKey contextKey = "principal"
	SessionKey   contextKey = "session"
)

// SessionID returns the session id carried by the request: the session
// cookie, or a bearer header for non-browser clients.
func SessionID(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// Lookup loads the request's session. A missing or expired session is
// reported as session.ErrSessionNotFound.
func Lookup(r *http.Request, store session.Store, cookieName string) (*session.Session, error) {
	id := SessionID(r, cookieName)
	if id == "" {
		return nil, session.ErrSessionNotFound
	}
	return store.Get(r.Context(), id)
}

// AuthMiddleware admits requests with a live partner session.
func AuthMiddleware(store session.Store, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := Lookup(r, store, cookieName)
			if err != nil {
				if errors.Is(err, session.ErrSessionNotFound) {
					response.Unauthorized(w, "not authenticated")
					return
				}
				response.InternalError(w, "failed to load session")
				return
			}

			if !sess.Principal.IsPartner() {
				response.Forbidden(w, domain.ErrNotPartner.Error())
				return
			}

			annotate(r.Context(), sess.Principal.ID)
			ctx := context.WithValue(r.Context(), SessionKey, sess)
			ctx = context.WithValue(ctx, PrincipalKey, sess.Principal)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from context
func GetPrincipal(ctx context.Context) (*domain.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(*domain.Principal)
	return p, ok && p != nil
}

// GetSession extracts the session from context
func GetSession(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(SessionKey).(*session.Session)
	return s, ok && s != nil
}
