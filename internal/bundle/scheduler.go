package bundle

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fcojfernandez/support-core-plugin/internal/log"
)

const (
	// DefaultInterval is how often the scheduler generates a bundle.
	DefaultInterval = 24 * time.Hour

	// maxBackoff caps exponential backoff on consecutive generation errors.
	maxBackoff = 6 * time.Hour
)

// SchedulerMetrics is implemented by the metrics package to observe
// scheduler behavior.
type SchedulerMetrics interface {
	IncSchedulerRuns()
	SetSchedulerLastSuccess(unixSeconds float64)
	SetSchedulerStale(stale bool)
}

// SchedulerOptions configures the periodic bundle scheduler.
type SchedulerOptions struct {
	Logger    log.Logger
	Generator *Generator
	Manager   *Manager
	Store     *Store
	Interval  time.Duration

	// Retention caps how many archives Prune keeps after each run.
	// Zero disables pruning.
	Retention int

	// OnBundle is called after each successful generation, before pruning.
	// Used to hand the archive to the uploader. Called synchronously on
	// the scheduler goroutine; panics are contained.
	OnBundle func(ctx context.Context, res *Result)

	// Metrics receives scheduler observability signals.
	Metrics SchedulerMetrics

	// StaleThreshold is how long since the last successful generation
	// before the scheduler reports staleness. Zero defaults to three
	// intervals.
	StaleThreshold time.Duration
}

// Scheduler generates bundles on an interval with backoff on failure.
type Scheduler struct {
	logger    log.Logger
	generator *Generator
	manager   *Manager
	store     *Store
	interval  time.Duration
	retention int
	onBundle  func(ctx context.Context, res *Result)
	metrics   SchedulerMetrics

	// backoff state
	consecutiveErrs int

	// staleness tracking
	staleThreshold time.Duration
	lastSuccessAt  time.Time
	staleLogged    bool

	runCount int64
}

// NewScheduler creates a scheduler. Call Run to start the loop.
func NewScheduler(opts *SchedulerOptions) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	staleThreshold := opts.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = 3 * interval
	}
	return &Scheduler{
		logger:         opts.Logger,
		generator:      opts.Generator,
		manager:        opts.Manager,
		store:          opts.Store,
		interval:       interval,
		retention:      opts.Retention,
		onBundle:       opts.OnBundle,
		metrics:        opts.Metrics,
		staleThreshold: staleThreshold,
		lastSuccessAt:  time.Now(),
	}
}

// Run starts the generation loop. Blocks until ctx is cancelled.
// Intended to be launched as: go scheduler.Run(ctx)
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info(ctx, "bundle scheduler starting",
		"interval", s.interval.String(),
		"retention", s.retention,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "bundle scheduler stopping",
				"reason", ctx.Err(),
				"runs", s.runCount,
			)
			return ctx.Err()
		case <-ticker.C:
			ok := s.runOnce(ctx)

			if !ok {
				s.consecutiveErrs++
				backoff := s.backoffDuration()
				s.logger.Warn(ctx, "bundle scheduler: backing off",
					"consecutive_errors", s.consecutiveErrs,
					"next_run_in", backoff.String(),
				)
				ticker.Reset(backoff)
			} else if s.consecutiveErrs > 0 {
				// recovered from error streak - resume normal cadence
				s.logger.Info(ctx, "bundle scheduler: recovered, resuming normal interval",
					"had_consecutive_errors", s.consecutiveErrs,
				)
				s.consecutiveErrs = 0
				ticker.Reset(s.interval)
			}

			// staleness detection: emit structured error once on transition into stale state
			if ok {
				if s.staleLogged {
					s.logger.Info(ctx, "bundle scheduler: staleness recovered")
					s.staleLogged = false
					if s.metrics != nil {
						s.metrics.SetSchedulerStale(false)
					}
				}
			} else if time.Since(s.lastSuccessAt) > s.staleThreshold {
				if !s.staleLogged {
					s.logger.Error(ctx, fmt.Errorf("last successful bundle was %s ago", time.Since(s.lastSuccessAt).Truncate(time.Second)),
						"bundle scheduler: bundles are stale",
					)
					s.staleLogged = true
					if s.metrics != nil {
						s.metrics.SetSchedulerStale(true)
					}
				}
			}
		}
	}
}

// runOnce performs one generate-publish-prune cycle. Returns false on
// generation failure so Run can back off.
func (s *Scheduler) runOnce(ctx context.Context) bool {
	s.runCount++
	if s.metrics != nil {
		s.metrics.IncSchedulerRuns()
	}

	res, err := s.generator.Generate(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "bundle scheduler: generation failed")
		return false
	}

	now := time.Now()
	s.lastSuccessAt = now
	if s.metrics != nil {
		s.metrics.SetSchedulerLastSuccess(float64(now.Unix()))
	}

	if s.manager != nil {
		s.manager.Set(*res)
	}

	if s.onBundle != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error(ctx, fmt.Errorf("OnBundle panic: %v", r),
						"bundle scheduler: OnBundle callback panicked, continuing",
						"bundle", res.Name,
					)
				}
			}()
			s.onBundle(ctx, res)
		}()
	}

	if s.store != nil && s.retention > 0 {
		removed, err := s.store.Prune(s.retention)
		if err != nil {
			s.logger.Warn(ctx, "bundle scheduler: prune failed", "error", err.Error())
		} else if len(removed) > 0 {
			s.logger.Info(ctx, "bundle scheduler: pruned old bundles", "removed", len(removed))
		}
	}

	return true
}

// backoffDuration computes exponential backoff capped at maxBackoff.
// consecutiveErrs=1 → 2x interval, =2 → 4x, =3 → 8x, etc.
func (s *Scheduler) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(s.consecutiveErrs))
	d := time.Duration(float64(s.interval) * mult)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
