package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

// groupCacheSize bounds the group name -> Group LRU. Group sets are small
// in practice (one entry per IdP-asserted group name).
const groupCacheSize = 1024

// PostgresStore is the production Store backend.
type PostgresStore struct {
	db         *sql.DB
	groupCache *lru.Cache[string, *Group]
}

// NewPostgresStore creates a Store backed by the given PostgreSQL
// connection pool.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	cache, err := lru.New[string, *Group](groupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create group cache: %w", err)
	}
	return &PostgresStore{db: db, groupCache: cache}, nil
}

// FindUserByUsername looks up a user by username. Returns (nil, nil) when
// no user exists.
func (s *PostgresStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, first_name, last_name, is_staff, created_at, updated_at, last_login_at
		FROM users WHERE username = $1
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
func (s *PostgresStore) CreateUser(ctx context.Context, user *User) (*User, error) {
	created := *user
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, first_name, last_name, is_staff, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, false, NOW(), NOW(), NOW())
		RETURNING id, is_staff, created_at, updated_at, last_login_at
	`, user.Username, user.Email, user.FirstName, user.LastName).Scan(
		&created.ID, &created.IsStaff, &created.CreatedAt, &created.UpdatedAt, &created.LastLoginAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &created, nil
}

// TouchLastLogin records a successful login.
func (s *PostgresStore) TouchLastLogin(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = NOW(), updated_at = NOW() WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// FindGroupByName looks up a group by name, consulting the LRU cache
// first. Returns (nil, nil) when no group exists; negative results are
// not cached so configuration lag resolves without a restart.
func (s *PostgresStore) FindGroupByName(ctx context.Context, name string) (*Group, error) {
	if group, ok := s.groupCache.Get(name); ok {
		return group, nil
	}

	group := &Group{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM groups WHERE name = $1
	`, name).Scan(&group.ID, &group.Name, &group.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group: %w", err)
	}

	s.groupCache.Add(name, group)
	return group, nil
}

// CreateGroup inserts a group, returning the existing row when another
// request created it first.
func (s *PostgresStore) CreateGroup(ctx context.Context, name string) (*Group, error) {
	group := &Group{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO groups (name, created_at)
		VALUES ($1, NOW())
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at
	`, name).Scan(&group.ID, &group.Name, &group.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	s.groupCache.Add(name, group)
	return group, nil
}

// ListGroups returns the user's current group memberships ordered by name.
func (s *PostgresStore) ListGroups(ctx context.Context, userID int64) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.created_at
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = $1
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
func (s *PostgresStore) AddMember(ctx context.Context, userID, groupID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (user_id, group_id, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, group_id) DO NOTHING
	`, userID, groupID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

// RemoveMember revokes membership. Revoking an absent membership is a
// no-op.
func (s *PostgresStore) RemoveMember(ctx context.Context, userID, groupID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM group_members WHERE user_id = $1 AND group_id = $2
	`, userID, groupID)
	if err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}
	return nil
}

// SetStaff updates the staff flag.
func (s *PostgresStore) SetStaff(ctx context.Context, userID int64, isStaff bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_staff = $1, updated_at = NOW() WHERE id = $2
	`, isStaff, userID)
	if err != nil {
		return fmt.Errorf("failed to update staff flag: %w", err)
	}
	return nil
}
