// Package maintenance runs the background jobs that keep pairing data
// consistent: purging expired credentials and repairing partner links a
// crash or partial write left pointing only one way.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/duetapp/duet/internal/services"
	"github.com/duetapp/duet/pkg/logger"
)

const defaultSchedule = "@hourly"

// Sweeper coordinates the periodic pairing maintenance jobs.
type Sweeper struct {
	pairing  *services.PairingService
	cron     *cron.Cron
	schedule string
	log      *zap.Logger
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithSchedule overrides the cron expression for the sweep.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults.
func NewSweeper(pairing *services.PairingService, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		pairing:  pairing,
		schedule: defaultSchedule,
		log:      logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return sweeper
}

// Start registers the sweep with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if s.pairing == nil {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("pairing sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes both maintenance routines sequentially. Primarily used in
// tests and during graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if s.pairing == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	purged, err := s.pairing.PurgeExpired(ctx)
	if err != nil {
		errs = multierr.Append(errs, err)
	} else if purged > 0 {
		s.log.Info("purged expired pairing credentials", zap.Int64("count", purged))
	}

	repaired, err := s.pairing.RepairAsymmetricLinks(ctx)
	if err != nil {
		errs = multierr.Append(errs, err)
	} else if repaired > 0 {
		s.log.Info("repaired asymmetric partner links", zap.Int64("count", repaired))
	}

	return errs
}
