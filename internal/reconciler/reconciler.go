// Package reconciler repairs schedules whose next_run is stuck in the past.
//
// A schedule goes overdue when its occurrence was never recorded: the
// poller's send failed, the poller was down when the window passed, or the
// consumer exhausted redelivery. The next tick's window never re-includes
// a past due time, so without repair the schedule stays dead.
//
// Repair recomputes next_run from the current instant and persists it,
// returning the schedule to the dispatch pipeline. Missed occurrences get
// no fabricated history.
package reconciler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/buithaibinh/cron-solution-stack/internal/cron"
	"github.com/buithaibinh/cron-solution-stack/internal/domain"
)

// Store defines the store surface the reconciler needs.
type Store interface {
	ListOverdue(ctx context.Context, olderThan time.Time, limit int) ([]domain.Schedule, error)
	Put(ctx context.Context, sched domain.Schedule) error
}

type Evaluator interface {
	NextRun(expression string, now time.Time, opts cron.Options) (*time.Time, error)
}

// MetricsSink defines the interface for recording reconciler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	OverdueSchedulesUpdate(count int)
	ScheduleRepaired()
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	Interval time.Duration

	// Threshold is how far past its next_run a schedule must be before it
	// counts as overdue. Must exceed the poller window span plus the
	// queue's longest redelivery tail, or in-flight occurrences get
	// repaired out from under the consumer.
	Threshold time.Duration

	// BatchSize is the maximum number of overdue schedules per cycle.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 15 * time.Minute,
		BatchSize: 100,
	}
}

// Reconciler detects overdue schedules and moves their next_run forward.
type Reconciler struct {
	config    Config
	store     Store
	evaluator Evaluator
	clock     func() time.Time
	metrics   MetricsSink
}

// New creates a new Reconciler.
func New(config Config, store Store, evaluator Evaluator) *Reconciler {
	return &Reconciler{
		config:    config,
		store:     store,
		evaluator: evaluator,
		clock:     time.Now,
	}
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker.
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	cutoff := now.Add(-r.config.Threshold)

	overdue, err := r.store.ListOverdue(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		// Store error: log and abort the cycle. Will retry next interval.
		log.Printf("reconciler: failed to list overdue schedules: %v", err)
		return
	}

	if r.metrics != nil {
		r.metrics.OverdueSchedulesUpdate(len(overdue))
	}
	if len(overdue) == 0 {
		return
	}

	log.Printf("reconciler: found %d overdue schedules", len(overdue))

	repaired := 0
	failed := 0

	for _, sched := range overdue {
		// Check context before each write to allow graceful shutdown.
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d", repaired+failed, len(overdue))
			return
		}

		if err := r.repair(ctx, sched, now); err != nil {
			log.Printf("reconciler: failed to repair schedule=%s: %v", sched.ID, err)
			failed++
			continue
		}
		if r.metrics != nil {
			r.metrics.ScheduleRepaired()
		}
		repaired++
	}

	log.Printf("reconciler: cycle complete, repaired=%d, failed=%d", repaired, failed)
}

func (r *Reconciler) repair(ctx context.Context, sched domain.Schedule, now time.Time) error {
	stale := "none"
	if sched.NextRun != nil {
		stale = sched.NextRun.Format(time.RFC3339)
	}

	next, err := r.evaluator.NextRun(sched.Expression, now, cron.Options{
		Timezone:    sched.Timezone,
		ActiveFrom:  sched.ActiveFrom,
		ActiveUntil: sched.ActiveUntil,
	})
	if err != nil {
		if !errors.Is(err, cron.ErrInvalidExpression) {
			return err
		}
		// Unparsable expression: clear next_run so it leaves the overdue set.
		log.Printf("reconciler: schedule=%s: %v", sched.ID, err)
		next = nil
	}

	sched.NextRun = next
	sched.UpdatedAt = now
	if err := r.store.Put(ctx, sched); err != nil {
		return err
	}

	fresh := "none"
	if next != nil {
		fresh = next.Format(time.RFC3339)
	}
	log.Printf("reconciler: repaired schedule=%s next_run %s -> %s", sched.ID, stale, fresh)
	return nil
}
