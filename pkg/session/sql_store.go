package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLStore persists sessions in the identity database. Queries are
// written with Postgres placeholders and rebound for SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates a session store on the given database. Dialect is
// "postgres" or "sqlite3".
func NewSQLStore(db *sql.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// rebind converts $n placeholders to ? for SQLite.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "sqlite3" {
		return query
	}
	for i := 9; i >= 1; i-- {
		query = strings.ReplaceAll(query, fmt.Sprintf("$%d", i), "?")
	}
	return query
}

// Create inserts a session row.
func (s *SQLStore) Create(ctx context.Context, session *Session) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sessions (id, user_id, username, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`), session.ID, session.UserID, session.Username, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get returns the session if it exists and has not expired.
func (s *SQLStore) Get(ctx context.Context, id string) (*Session, error) {
	session := &Session{}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, user_id, username, created_at, expires_at
		FROM sessions
		WHERE id = $1 AND expires_at > CURRENT_TIMESTAMP
	`), id).Scan(&session.ID, &session.UserID, &session.Username,
		&session.CreatedAt, &session.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// Delete removes a session row.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE id = $1`), id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes expired session rows.
func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}
