// Package reaper sweeps stale sessions into their terminal states and
// purges old terminal records.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/matchhub/matchhub/internal/domain/session"
	"github.com/matchhub/matchhub/internal/metrics"
)

const (
	DefaultInterval   = 5 * time.Second
	DefaultBatchSize  = 100
	DefaultPurgeGrace = time.Hour
)

// Reaper periodically moves deadline-passed waiting sessions to expired
// and matched sessions to abandoned, then garbage-collects terminal rows.
type Reaper struct {
	store     session.Store
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	interval  time.Duration
	batchSize int
	grace     time.Duration

	scheduler gocron.Scheduler
}

func New(store session.Store, m *metrics.Metrics, logger zerolog.Logger, interval time.Duration, grace time.Duration) (*Reaper, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if grace <= 0 {
		grace = DefaultPurgeGrace
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler init: %w", err)
	}
	return &Reaper{
		store:     store,
		metrics:   m,
		logger:    logger.With().Str("service", "reaper").Logger(),
		interval:  interval,
		batchSize: DefaultBatchSize,
		grace:     grace,
		scheduler: scheduler,
	}, nil
}

// Start schedules the sweep and purge jobs and begins running them.
func (r *Reaper) Start(ctx context.Context) error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error().Err(err).Msg("sweep failed")
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	_, err = r.scheduler.NewJob(
		gocron.DurationJob(r.grace),
		gocron.NewTask(func() {
			if _, err := r.Purge(ctx); err != nil {
				r.logger.Error().Err(err).Msg("purge failed")
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("schedule purge: %w", err)
	}

	r.scheduler.Start()
	r.logger.Info().Dur("interval", r.interval).Dur("purge_grace", r.grace).Msg("reaper started")
	return nil
}

// Stop shuts the scheduler down, waiting for in-flight jobs.
func (r *Reaper) Stop() {
	if err := r.scheduler.Shutdown(); err != nil {
		r.logger.Warn().Err(err).Msg("scheduler shutdown")
	}
}

// Sweep transitions one batch of deadline-passed sessions. Waiting
// sessions expire; matched sessions that never started are abandoned.
// Each session is transitioned independently so one conflict does not
// stall the batch; a session that moved on concurrently is skipped.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	stale, err := r.store.ListExpired(ctx, time.Now(), r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	reaped := 0
	for _, s := range stale {
		target := session.StatusExpired
		if s.Status == session.StatusMatched {
			target = session.StatusAbandoned
		}
		_, err := r.store.Transition(ctx, s.ID, session.TransitionRequest{
			To:    target,
			Cause: session.CauseTimeout,
			Precondition: func(fresh *session.Session) error {
				if fresh.Status != s.Status {
					return fmt.Errorf("session moved on: %w", session.ErrConflict)
				}
				if !fresh.IsExpired(time.Now()) {
					return fmt.Errorf("deadline extended: %w", session.ErrConflict)
				}
				return nil
			},
		})
		if err != nil {
			if errors.Is(err, session.ErrConflict) || errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrInvalidTransition) {
				continue
			}
			r.logger.Warn().Err(err).Stringer("session_id", s.ID).Msg("reap transition failed")
			continue
		}
		reaped++
		r.metrics.CountReaped(string(target))
		r.logger.Info().
			Stringer("session_id", s.ID).
			Str("from", string(s.Status)).
			Str("to", string(target)).
			Msg("session reaped")
	}
	return reaped, nil
}

// Purge hard-deletes cancelled and expired sessions past the grace
// period. Completed sessions are kept for history.
func (r *Reaper) Purge(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.grace)
	n, err := r.store.PurgeTerminal(ctx, cutoff, []session.Status{
		session.StatusCancelled,
		session.StatusExpired,
		session.StatusAbandoned,
	})
	if err != nil {
		return 0, fmt.Errorf("purge terminal: %w", err)
	}
	if n > 0 {
		r.logger.Info().Int("purged", n).Msg("terminal sessions purged")
	}
	return n, nil
}
