// Package consumer drains the delay queue one occurrence message at a
// time: it stamps the schedule's last run, appends a write-once history
// record, recomputes the next run, and persists both.
//
// The next run is recomputed from the processing clock, not from the
// snapshot's stale value. Under delayed redelivery this can skip or repeat
// an occurrence; that gap is carried over from the source system, not
// remediated here.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/buithaibinh/cron-solution-stack/internal/cron"
	"github.com/buithaibinh/cron-solution-stack/internal/domain"
	"github.com/buithaibinh/cron-solution-stack/internal/queue"
)

type Store interface {
	Put(ctx context.Context, sched domain.Schedule) error
}

type Evaluator interface {
	NextRun(expression string, now time.Time, opts cron.Options) (*time.Time, error)
}

// AnalyticsSink records per-schedule occurrence counters as a best-effort
// side effect. Implementations handle their own errors.
type AnalyticsSink interface {
	OccurrenceRecorded(ctx context.Context, scheduleID uuid.UUID, at time.Time)
}

// MetricsSink defines the interface for recording consumer metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	MessageProcessed(duration time.Duration, err error)
	HistoryWritten()
}

type Config struct {
	// PollInterval is how long to idle when the queue has nothing due.
	PollInterval time.Duration
}

type Consumer struct {
	config    Config
	store     Store
	queue     queue.Queue
	evaluator Evaluator
	clock     func() time.Time
	metrics   MetricsSink
	analytics AnalyticsSink
}

func New(config Config, store Store, q queue.Queue, evaluator Evaluator) *Consumer {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	return &Consumer{
		config:    config,
		store:     store,
		queue:     q,
		evaluator: evaluator,
		clock:     time.Now,
	}
}

// WithMetrics attaches a metrics sink to the consumer.
func (c *Consumer) WithMetrics(sink MetricsSink) *Consumer {
	c.metrics = sink
	return c
}

// WithAnalytics attaches an analytics sink to the consumer.
func (c *Consumer) WithAnalytics(sink AnalyticsSink) *Consumer {
	c.analytics = sink
	return c
}

// Run drains the queue until ctx is cancelled, one message at a time.
// A failed message is handed back for redelivery; how often and how many
// times it comes back is the queue's policy, not the consumer's.
func (c *Consumer) Run(ctx context.Context) {
	log.Printf("consumer: started (poll=%s)", c.config.PollInterval)
	for {
		if ctx.Err() != nil {
			log.Println("consumer: stopped")
			return
		}

		msg, err := c.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("consumer: stopped")
				return
			}
			log.Printf("consumer: receive: %v", err)
			c.idle(ctx)
			continue
		}
		if msg == nil {
			c.idle(ctx)
			continue
		}

		start := c.clock()
		err = c.Process(ctx, msg.Body)
		if c.metrics != nil {
			c.metrics.MessageProcessed(c.clock().Sub(start), err)
		}
		if err != nil {
			log.Printf("consumer: process (attempt=%d): %v", msg.Attempt, err)
			if rerr := c.queue.Redeliver(ctx, msg); rerr != nil {
				log.Printf("consumer: redeliver: %v", rerr)
			}
		}
	}
}

func (c *Consumer) idle(ctx context.Context) {
	timer := time.NewTimer(c.config.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Process handles one occurrence message. The body is the schedule snapshot
// taken at dispatch time, not a fresh read: a concurrent administrative
// update is invisible here and the final Put wins (last writer wins).
//
// Both writes must succeed for the occurrence to count as recorded; a
// failure of either fails the whole message and leaves redelivery to the
// queue. A redelivered message re-runs all steps, which can duplicate the
// history row.
func (c *Consumer) Process(ctx context.Context, body []byte) error {
	var snapshot domain.Schedule
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}

	now := c.clock().UTC().Truncate(time.Second)

	updated := snapshot
	updated.LastRun = &now
	updated.UpdatedAt = now

	next, err := c.evaluator.NextRun(updated.Expression, now, cron.Options{
		Timezone:    updated.Timezone,
		ActiveFrom:  updated.ActiveFrom,
		ActiveUntil: updated.ActiveUntil,
	})
	if err != nil {
		if !errors.Is(err, cron.ErrInvalidExpression) {
			return fmt.Errorf("recompute next run: %w", err)
		}
		// Unparsable expression: the schedule stays persisted but inert.
		log.Printf("consumer: schedule=%s: %v", updated.ID, err)
		next = nil
	}
	updated.NextRun = next

	history := domain.NewHistory(updated, uuid.New(), now)

	if err := c.store.Put(ctx, updated); err != nil {
		return fmt.Errorf("put schedule %s: %w", updated.ID, err)
	}
	if err := c.store.Put(ctx, history); err != nil {
		return fmt.Errorf("put history %s for schedule %s: %w", history.ID, updated.ID, err)
	}

	if c.metrics != nil {
		c.metrics.HistoryWritten()
	}
	if c.analytics != nil {
		c.analytics.OccurrenceRecorded(ctx, updated.ID, now)
	}

	nextStr := "none"
	if updated.NextRun != nil {
		nextStr = updated.NextRun.Format(time.RFC3339)
	}
	log.Printf("consumer: recorded schedule=%s last_run=%s next_run=%s",
		updated.ID, now.Format(time.RFC3339), nextStr)
	return nil
}
