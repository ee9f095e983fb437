package identity

import (
	"context"
	"errors"
)

// ErrDuplicateUser is returned by CreateUser when the username is already
// taken. The unique constraint in the backing store is the source of truth
// for concurrent first logins; callers retry their lookup on this error.
var ErrDuplicateUser = errors.New("identity: username already exists")

// Store is the identity persistence interface the reconciliation engine
// depends on. Find methods return (nil, nil) when no record exists.
//
// Implementations must support safe concurrent use: CreateUser is
// protected by a unique constraint on username, and membership mutation
// is idempotent (adding an existing membership or removing an absent one
// is a no-op).
type Store interface {
	// FindUserByUsername looks up a user by its unique username.
	FindUserByUsername(ctx context.Context, username string) (*User, error)

	// CreateUser persists a new user and returns it with its assigned ID.
	// Returns ErrDuplicateUser if the username is already taken.
	CreateUser(ctx context.Context, user *User) (*User, error)

	// TouchLastLogin records a successful login for the user.
	TouchLastLogin(ctx context.Context, userID int64) error

	// FindGroupByName looks up a group by its unique name.
	FindGroupByName(ctx context.Context, name string) (*Group, error)

	// CreateGroup persists a new group, or returns the existing one when
	// another request created it first.
	CreateGroup(ctx context.Context, name string) (*Group, error)

	// ListGroups returns the groups the user is currently a member of.
	ListGroups(ctx context.Context, userID int64) ([]*Group, error)

	// AddMember grants group membership. Adding an existing membership is
	// a no-op.
	AddMember(ctx context.Context, userID, groupID int64) error

	// RemoveMember revokes group membership. Removing an absent membership
	// is a no-op.
	RemoveMember(ctx context.Context, userID, groupID int64) error

	// SetStaff updates the user's staff flag.
	SetStaff(ctx context.Context, userID int64, isStaff bool) error
}
