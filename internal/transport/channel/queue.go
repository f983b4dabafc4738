// Package channel provides an in-process delay queue for single-node
// deployments and tests. Deferred messages are parked on timers and handed
// to a buffered channel at their due instant.
package channel

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/buithaibinh/cron-solution-stack/internal/queue"
)

// DelayQueue implements queue.Queue over a buffered channel. A message due
// while the buffer is full is dropped with a log line; sizing the buffer is
// the caller's job.
type DelayQueue struct {
	ch              chan queue.Message
	redeliveryDelay time.Duration
	maxAttempts     int

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

func NewDelayQueue(buffer int) *DelayQueue {
	return &DelayQueue{
		ch:              make(chan queue.Message, buffer),
		redeliveryDelay: queue.DefaultRedeliveryDelay,
		maxAttempts:     queue.DefaultMaxAttempts,
		timers:          make(map[*time.Timer]struct{}),
	}
}

// WithRedelivery overrides the redelivery delay and attempt cap.
func (q *DelayQueue) WithRedelivery(delay time.Duration, maxAttempts int) *DelayQueue {
	q.redeliveryDelay = delay
	q.maxAttempts = maxAttempts
	return q
}

func (q *DelayQueue) Send(ctx context.Context, body []byte, delay time.Duration) error {
	return q.sendAfter(ctx, queue.Message{Body: body, Attempt: 1}, delay)
}

func (q *DelayQueue) sendAfter(ctx context.Context, msg queue.Message, delay time.Duration) error {
	if delay <= 0 {
		select {
		case q.ch <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		select {
		case q.ch <- msg:
		default:
			log.Printf("channel: buffer full, dropping message due now (attempt=%d)", msg.Attempt)
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

// Receive returns the next due message without blocking, or nil when none
// is due.
func (q *DelayQueue) Receive(ctx context.Context) (*queue.Message, error) {
	select {
	case msg := <-q.ch:
		return &msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, nil
	}
}

func (q *DelayQueue) Redeliver(ctx context.Context, msg *queue.Message) error {
	if msg.Attempt >= q.maxAttempts {
		log.Printf("channel: dropping message after %d attempts", msg.Attempt)
		return nil
	}
	return q.sendAfter(ctx, queue.Message{Body: msg.Body, Attempt: msg.Attempt + 1}, q.redeliveryDelay)
}

// Close stops pending timers. Messages already due stay readable.
func (q *DelayQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
		delete(q.timers, timer)
	}
}

var _ queue.Queue = (*DelayQueue)(nil)
