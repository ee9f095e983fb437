// Package middleware provides request middleware built on the session
// layer.
package middleware

import (
	"context"
	"net/http"

	"github.com/perimeterlabs/shibgate/pkg/httputil"
	"github.com/perimeterlabs/shibgate/pkg/identity"
	"github.com/perimeterlabs/shibgate/pkg/session"
)

type contextKey string

// userKey carries the authenticated *identity.User on the request
// context.
const userKey contextKey = "shibgate.user"

// SessionMiddleware authenticates requests via the session cookie.
type SessionMiddleware struct {
	sessions *session.Manager
	store    identity.Store
	optional bool // pass anonymous requests through instead of rejecting
}

// NewSessionMiddleware creates session-cookie authentication middleware.
func NewSessionMiddleware(sessions *session.Manager, store identity.Store, optional bool) *SessionMiddleware {
	return &SessionMiddleware{
		sessions: sessions,
		store:    store,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with session authentication.
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.sessions.FromRequest(r.Context(), r)
		if err != nil {
			httputil.WriteInternalError(w)
			return
		}
		if sess == nil {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		user, err := m.store.FindUserByUsername(r.Context(), sess.Username)
		if err != nil {
			httputil.WriteInternalError(w)
			return
		}
		if user == nil {
			// Session outlived the user record.
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, user *identity.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, or nil for anonymous
// requests.
func UserFromContext(ctx context.Context) *identity.User {
	user, _ := ctx.Value(userKey).(*identity.User)
	return user
}
