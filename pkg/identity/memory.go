package identity

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and the "memory" store
// type. All operations are safe for concurrent use.
type MemoryStore struct {
	mu          sync.Mutex
	nextUserID  int64
	nextGroupID int64
	users       map[string]*User  // keyed by username
	groups      map[string]*Group // keyed by name
	members     map[int64]map[int64]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		groups:  make(map[string]*Group),
		members: make(map[int64]map[int64]bool),
	}
}

// FindUserByUsername returns a copy of the stored user, or (nil, nil).
func (s *MemoryStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

// CreateUser stores a new user, enforcing username uniqueness.
func (s *MemoryStore) CreateUser(ctx context.Context, user *User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return nil, ErrDuplicateUser
	}

	s.nextUserID++
	now := time.Now()
	stored := *user
	stored.ID = s.nextUserID
	stored.IsStaff = false
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.LastLoginAt = &now
	s.users[user.Username] = &stored

	copied := stored
	return &copied, nil
}

// TouchLastLogin records a successful login.
func (s *MemoryStore) TouchLastLogin(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.ID == userID {
			now := time.Now()
			user.LastLoginAt = &now
			user.UpdatedAt = now
			return nil
		}
	}
	return nil
}

// FindGroupByName returns a copy of the stored group, or (nil, nil).
func (s *MemoryStore) FindGroupByName(ctx context.Context, name string) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[name]
	if !ok {
		return nil, nil
	}
	copied := *group
	return &copied, nil
}

// CreateGroup stores a group, returning the existing one when present.
func (s *MemoryStore) CreateGroup(ctx context.Context, name string) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if group, ok := s.groups[name]; ok {
		copied := *group
		return &copied, nil
	}

	s.nextGroupID++
	group := &Group{ID: s.nextGroupID, Name: name, CreatedAt: time.Now()}
	s.groups[name] = group

	copied := *group
	return &copied, nil
}

// ListGroups returns the user's memberships ordered by name.
func (s *MemoryStore) ListGroups(ctx context.Context, userID int64) ([]*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var groups []*Group
	for _, group := range s.groups {
		if s.members[userID][group.ID] {
			copied := *group
			groups = append(groups, &copied)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

// AddMember grants membership.
func (s *MemoryStore) AddMember(ctx context.Context, userID, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.members[userID] == nil {
		s.members[userID] = make(map[int64]bool)
	}
	s.members[userID][groupID] = true
	return nil
}

// RemoveMember revokes membership.
func (s *MemoryStore) RemoveMember(ctx context.Context, userID, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.members[userID], groupID)
	return nil
}

// SetStaff updates the staff flag.
func (s *MemoryStore) SetStaff(ctx context.Context, userID int64, isStaff bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.ID == userID {
			user.IsStaff = isStaff
			user.UpdatedAt = time.Now()
			return nil
		}
	}
	return nil
}

// UserCount reports the number of stored users. Used by tests asserting
// that failed logins leave no state behind.
func (s *MemoryStore) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// GroupCount reports the number of stored groups.
func (s *MemoryStore) GroupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups)
}
