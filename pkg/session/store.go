package session

import (
	"context"
	"time"
)

// Session marks a user as the authenticated principal for a browser.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists sessions. Get returns (nil, nil) for unknown or expired
// session IDs.
type Store interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes expired sessions and reports how many were
	// removed. Backends with native expiry (redis) return 0.
	DeleteExpired(ctx context.Context) (int64, error)
}
