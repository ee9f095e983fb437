package session

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/perimeterlabs/shibgate/pkg/observability"
)

// Sweeper periodically removes expired sessions from SQL-backed stores.
type Sweeper struct {
	store   Store
	cron    *cron.Cron
	logger  *logrus.Logger
	metrics *observability.Metrics
}

// NewSweeper creates a sweeper running DeleteExpired on the given cron
// schedule (standard 5-field spec, e.g. "*/15 * * * *").
func NewSweeper(store Store, schedule string, logger *logrus.Logger, metrics *observability.Metrics) (*Sweeper, error) {
	s := &Sweeper{
		store:   store,
		cron:    cron.New(),
		logger:  logger,
		metrics: metrics,
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	removed, err := s.store.DeleteExpired(context.Background())
	if err != nil {
		s.logger.WithError(err).Error("Session sweep failed")
		return
	}
	if removed > 0 {
		s.metrics.SessionsSweptTotal.Add(float64(removed))
		s.logger.WithField("removed", removed).Info("Swept expired sessions")
	}
}
