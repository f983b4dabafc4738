// Package poller scans for schedules due in an upcoming lookahead window
// and enqueues one delayed occurrence message per due schedule, so each
// message lands at its exact due instant.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/buithaibinh/cron-solution-stack/internal/domain"
)

type Store interface {
	ListDueBetween(ctx context.Context, start, end time.Time) ([]domain.Schedule, error)
}

type Queue interface {
	Send(ctx context.Context, body []byte, delay time.Duration) error
}

// MetricsSink defines the interface for recording poller metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, dispatched int, err error)
	DispatchEnqueued(delay time.Duration)
	DispatchFailed()
}

type Config struct {
	// TickInterval is the cadence between ticks. Must equal WindowSpan so
	// consecutive windows cover time exactly once.
	TickInterval time.Duration

	// TickOffset places ticks past the hour (8m means :08, :18, :28, ...).
	TickOffset time.Duration

	// WindowLead is the gap between the tick instant and the window start.
	// It absorbs the span between an occurrence's dispatch and the tick
	// that would otherwise re-see it.
	WindowLead time.Duration

	// WindowSpan is the window length.
	WindowSpan time.Duration
}

// DefaultConfig returns the production cadence: a 10-minute window
// [tick+2m, tick+12m) advancing in 10-minute steps from :08.
func DefaultConfig() Config {
	return Config{
		TickInterval: 10 * time.Minute,
		TickOffset:   8 * time.Minute,
		WindowLead:   2 * time.Minute,
		WindowSpan:   10 * time.Minute,
	}
}

type Poller struct {
	config  Config
	store   Store
	queue   Queue
	clock   func() time.Time
	metrics MetricsSink
}

func New(config Config, store Store, queue Queue) *Poller {
	return &Poller{
		config: config,
		store:  store,
		queue:  queue,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink to the poller.
func (p *Poller) WithMetrics(sink MetricsSink) *Poller {
	p.metrics = sink
	return p
}

// Run aligns to the next offset instant, then ticks on the fixed cadence
// until ctx is cancelled. Tick errors are logged, never retried: the next
// window does not re-include a past due time.
func (p *Poller) Run(ctx context.Context) {
	now := p.clock().UTC()
	first := nextAlignedTick(now, p.config.TickInterval, p.config.TickOffset)

	log.Printf("poller: started (interval=%s, offset=%s, first tick=%s)",
		p.config.TickInterval, p.config.TickOffset, first.Format(time.RFC3339))

	timer := time.NewTimer(first.Sub(now))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		log.Println("poller: stopped")
		return
	case <-timer.C:
	}

	if err := p.Tick(ctx); err != nil {
		log.Printf("poller: tick error: %v", err)
	}

	ticker := time.NewTicker(p.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("poller: stopped")
			return
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				log.Printf("poller: tick error: %v", err)
			}
		}
	}
}

// nextAlignedTick returns the earliest instant not before now on the
// cadence grid: offset past the hour, advancing by interval.
func nextAlignedTick(now time.Time, interval, offset time.Duration) time.Time {
	t := now.Truncate(time.Hour).Add(offset - interval)
	for t.Before(now) {
		t = t.Add(interval)
	}
	return t
}

// Tick runs one poll cycle. The error return is the acknowledgment contract
// for external time-based triggers: a tick with any failed dispatch fails
// as a whole, even though other dispatches in it already succeeded.
func (p *Poller) Tick(ctx context.Context) error {
	start := p.clock()
	if p.metrics != nil {
		p.metrics.TickStarted()
	}
	dispatched, err := p.tick(ctx)
	if p.metrics != nil {
		p.metrics.TickCompleted(p.clock().Sub(start), dispatched, err)
	}
	return err
}

func (p *Poller) tick(ctx context.Context) (int, error) {
	// Window boundaries derive purely from the observed wall clock,
	// snapped to the minute. Store clock skew is not compensated.
	now := p.clock().UTC().Truncate(time.Minute)
	windowStart := now.Add(p.config.WindowLead)
	windowEnd := windowStart.Add(p.config.WindowSpan)

	schedules, err := p.store.ListDueBetween(ctx, windowStart, windowEnd)
	if err != nil {
		return 0, fmt.Errorf("list due schedules: %w", err)
	}
	if len(schedules) == 0 {
		return 0, nil
	}

	log.Printf("poller: %d schedules due in [%s, %s)",
		len(schedules), windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))

	// Fan out one send per schedule and wait for all of them. Failures are
	// collected per schedule rather than short-circuiting, so the partial
	// outcome of the tick stays visible.
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		failures   []error
		dispatched int
	)
	for _, sched := range schedules {
		if sched.NextRun == nil {
			// Excluded by the index predicate; guard anyway.
			continue
		}
		wg.Add(1)
		go func(sched domain.Schedule) {
			defer wg.Done()
			if err := p.dispatch(ctx, sched, now); err != nil {
				log.Printf("poller: dispatch schedule=%s next_run=%s: %v",
					sched.ID, sched.NextRun.Format(time.RFC3339), err)
				if p.metrics != nil {
					p.metrics.DispatchFailed()
				}
				mu.Lock()
				failures = append(failures, fmt.Errorf("schedule %s: %w", sched.ID, err))
				mu.Unlock()
				return
			}
			mu.Lock()
			dispatched++
			mu.Unlock()
		}(sched)
	}
	wg.Wait()

	if len(failures) > 0 {
		return dispatched, fmt.Errorf("%d of %d dispatches failed: %w",
			len(failures), len(schedules), errors.Join(failures...))
	}
	return dispatched, nil
}

func (p *Poller) dispatch(ctx context.Context, sched domain.Schedule, now time.Time) error {
	delay := time.Duration(math.Round(sched.NextRun.Sub(now).Seconds())) * time.Second

	body, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := p.queue.Send(ctx, body, delay); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	if p.metrics != nil {
		p.metrics.DispatchEnqueued(delay)
	}
	log.Printf("poller: enqueued schedule=%s due=%s delay=%s",
		sched.ID, sched.NextRun.Format(time.RFC3339), delay)
	return nil
}
