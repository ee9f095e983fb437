package identity

import (
	"context"
	"errors"
	"time"

	"github.com/perimeterlabs/shibgate/pkg/observability"
)

// InstrumentedStore decorates a Store with per-operation duration
// histograms and error counters.
type InstrumentedStore struct {
	store   Store
	metrics *observability.Metrics
}

// NewInstrumentedStore wraps the given store with metrics recording.
func NewInstrumentedStore(store Store, metrics *observability.Metrics) *InstrumentedStore {
	return &InstrumentedStore{store: store, metrics: metrics}
}

// observe records the operation's duration and, for unexpected failures,
// its error. ErrDuplicateUser is a normal create-race outcome, not a
// store failure.
func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	s.metrics.StoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrDuplicateUser) {
		s.metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	}
}

func (s *InstrumentedStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	start := time.Now()
	user, err := s.store.FindUserByUsername(ctx, username)
	s.observe("find_user", start, err)
	return user, err
}

func (s *InstrumentedStore) CreateUser(ctx context.Context, user *User) (*User, error) {
	start := time.Now()
	created, err := s.store.CreateUser(ctx, user)
	s.observe("create_user", start, err)
	return created, err
}

func (s *InstrumentedStore) TouchLastLogin(ctx context.Context, userID int64) error {
	start := time.Now()
	err := s.store.TouchLastLogin(ctx, userID)
	s.observe("touch_last_login", start, err)
	return err
}

func (s *InstrumentedStore) FindGroupByName(ctx context.Context, name string) (*Group, error) {
	start := time.Now()
	group, err := s.store.FindGroupByName(ctx, name)
	s.observe("find_group", start, err)
	return group, err
}

func (s *InstrumentedStore) CreateGroup(ctx context.Context, name string) (*Group, error) {
	start := time.Now()
	group, err := s.store.CreateGroup(ctx, name)
	s.observe("create_group", start, err)
	return group, err
}

func (s *InstrumentedStore) ListGroups(ctx context.Context, userID int64) ([]*Group, error) {
	start := time.Now()
	groups, err := s.store.ListGroups(ctx, userID)
	s.observe("list_groups", start, err)
	return groups, err
}

func (s *InstrumentedStore) AddMember(ctx context.Context, userID, groupID int64) error {
	start := time.Now()
	err := s.store.AddMember(ctx, userID, groupID)
	s.observe("add_member", start, err)
	return err
}

func (s *InstrumentedStore) RemoveMember(ctx context.Context, userID, groupID int64) error {
	start := time.Now()
	err := s.store.RemoveMember(ctx, userID, groupID)
	s.observe("remove_member", start, err)
	return err
}

func (s *InstrumentedStore) SetStaff(ctx context.Context, userID int64, isStaff bool) error {
	start := time.Now()
	err := s.store.SetStaff(ctx, userID, isStaff)
	s.observe("set_staff", start, err)
	return err
}
