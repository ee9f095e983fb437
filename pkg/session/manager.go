package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/perimeterlabs/shibgate/pkg/identity"
)

// DefaultCookieName is the session cookie issued after login.
const DefaultCookieName = "shibgate_session"

// Manager issues and reads the session cookie.
type Manager struct {
	store      Store
	ttl        time.Duration
	cookieName string
	secure     bool
}

// NewManager creates a session manager. Secure controls the cookie's
// Secure attribute and should be true whenever the external URL is https.
func NewManager(store Store, ttl time.Duration, cookieName string, secure bool) *Manager {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Manager{
		store:      store,
		ttl:        ttl,
		cookieName: cookieName,
		secure:     secure,
	}
}

// Establish marks the user as the authenticated principal for this
// browser: it persists a new session and sets the session cookie on the
// response.
func (m *Manager) Establish(ctx context.Context, w http.ResponseWriter, user *identity.User) (*Session, error) {
	now := time.Now()
	session := &Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Username:  user.Username,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to establish session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return session, nil
}

// FromRequest returns the session for the request's cookie, or (nil,
// nil) when there is no valid session.
func (m *Manager) FromRequest(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return nil, nil
	}
	return m.store.Get(ctx, cookie.Value)
}

// Destroy deletes the request's session, if any, and clears the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(m.cookieName)
	if err == nil {
		if err := m.store.Delete(ctx, cookie.Value); err != nil {
			return err
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
