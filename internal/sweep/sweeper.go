// Package sweep evicts stale ticket contexts on a cron schedule. The
// context store otherwise only grows; this is the retention extension
// point, disabled unless configured.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Evicter is the store operation the sweeper drives.
type Evicter interface {
	Evict(olderThan time.Time) (int, error)
}

// Sweeper runs store eviction on a schedule.
type Sweeper struct {
	cron   *cron.Cron
	store  Evicter
	maxAge time.Duration
	logger *slog.Logger
}

// New creates a sweeper. The schedule is a standard cron expression
// (5 fields) or a predefined schedule like @hourly; maxAge is how long
// a context may go without an update before it is evicted.
func New(store Evicter, schedule string, maxAge time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cron:   cron.New(),
		store:  store,
		maxAge: maxAge,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return nil, fmt.Errorf("sweep: invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule. Blocks until context is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("sweeper started", "max_age", s.maxAge.String())

	<-ctx.Done()
	s.cron.Stop()
	s.logger.Info("sweeper stopped")
	return ctx.Err()
}

// Sweep evicts contexts older than the retention window once.
func (s *Sweeper) Sweep() {
	cutoff := time.Now().Add(-s.maxAge)
	n, err := s.store.Evict(cutoff)
	if err != nil {
		s.logger.Error("context eviction failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("stale contexts evicted", "count", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
}
