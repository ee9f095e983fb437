package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore is the single-node Store backend used by small deployments
// and local development.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a Store backed by the given SQLite database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// FindUserByUsername looks up a user by username. Returns (nil, nil) when
// no user exists.
func (s *SQLiteStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, first_name, last_name, is_staff, created_at, updated_at, last_login_at
		FROM users WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &user.Email, &user.FirstName,
		&user.LastName, &user.IsStaff, &user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// CreateUser inserts a new user. Returns ErrDuplicateUser when the
// username is already taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) (*User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, email, first_name, last_name, is_staff, created_at, updated_at, last_login_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
	`, user.Username, user.Email, user.FirstName, user.LastName, now, now, now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted user id: %w", err)
	}

	created := *user
	created.ID = id
	created.IsStaff = false
	created.CreatedAt = now
	created.UpdatedAt = now
	created.LastLoginAt = &now
	return &created, nil
}

// TouchLastLogin records a successful login.
func (s *SQLiteStore) TouchLastLogin(ctx context.Context, userID int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?
	`, now, now, userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// FindGroupByName looks up a group by name. Returns (nil, nil) when no
// group exists.
func (s *SQLiteStore) FindGroupByName(ctx context.Context, name string) (*Group, error) {
	group := &Group{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM groups WHERE name = ?
	`, name).Scan(&group.ID, &group.Name, &group.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group: %w", err)
	}
	return group, nil
}

// CreateGroup inserts a group, returning the existing row when another
// request created it first.
func (s *SQLiteStore) CreateGroup(ctx context.Context, name string) (*Group, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO groups (name, created_at) VALUES (?, ?)
	`, name, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	group, err := s.FindGroupByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, fmt.Errorf("group %q missing after insert", name)
	}
	return group, nil
}

// ListGroups returns the user's current group memberships ordered by name.
func (s *SQLiteStore) ListGroups(ctx context.Context, userID int64) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.created_at
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = ?
		ORDER BY g.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		group := &Group{}
		if err := rows.Scan(&group.ID, &group.Name, &group.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// AddMember grants membership. Granting an existing membership is a no-op.
func (s *SQLiteStore) AddMember(ctx context.Context, userID, groupID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_members (user_id, group_id, granted_at) VALUES (?, ?, ?)
	`, userID, groupID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

// RemoveMember revokes membership. Revoking an absent membership is a
// no-op.
func (s *SQLiteStore) RemoveMember(ctx context.Context, userID, groupID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM group_members WHERE user_id = ? AND group_id = ?
	`, userID, groupID)
	if err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}
	return nil
}

// SetStaff updates the staff flag.
func (s *SQLiteStore) SetStaff(ctx context.Context, userID int64, isStaff bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_staff = ?, updated_at = ? WHERE id = ?
	`, isStaff, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update staff flag: %w", err)
	}
	return nil
}
