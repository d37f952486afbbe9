package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/eventhub/partner-portal/internal/domain"
	"github.com/eventhub/partner-portal/internal/middleware"
	"github.com/eventhub/partner-portal/internal/session"
)

// SessionCookies issues and reads the portal session cookie.
type SessionCookies struct {
	store  session.Store
	name   string
	ttl    time.Duration
	secure bool
}

func NewSessionCookies(store session.Store, name string, ttl time.Duration, secure bool) *SessionCookies {
	return &SessionCookies{store: store, name: name, ttl: ttl, secure: secure}
}

func (c *SessionCookies) Name() string         { return c.name }
func (c *SessionCookies) Store() session.Store { return c.store }

// Issue stores a new session for p and sets its cookie.
func (c *SessionCookies) Issue(ctx context.Context, w http.ResponseWriter, p *domain.Principal) (*session.Session, error) {
	sess, err := c.store.Create(ctx, p, c.ttl)
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

// Current returns the request's session or nil. Store failures are returned;
// a missing session is not an error.
func (c *SessionCookies) Current(r *http.Request) (*session.Session, error) {
	sess, err := middleware.Lookup(r, c.store, c.name)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}

// Clear deletes the session and expires its cookie.
func (c *SessionCookies) Clear(ctx context.Context, w http.ResponseWriter, sess *session.Session) error {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	if sess == nil {
		return nil
	}
	return c.store.Delete(ctx, sess.ID)
}
