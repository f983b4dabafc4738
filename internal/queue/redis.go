package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redelivery defaults. A message that keeps failing past MaxAttempts is an
// unrecoverable drop.
const (
	DefaultRedeliveryDelay = 30 * time.Second
	DefaultMaxAttempts     = 5
)

// moveBatch caps how many due members one Receive promotes ready-ward.
const moveBatch = 100

// RedisQueue is a delay queue on Redis: deferred messages sit in a sorted
// set scored by their due unix time, due messages are promoted into a list
// and popped from its head.
type RedisQueue struct {
	client          *redis.Client
	name            string
	redeliveryDelay time.Duration
	maxAttempts     int
	clock           func() time.Time
}

func NewRedisQueue(client *redis.Client, name string) *RedisQueue {
	return &RedisQueue{
		client:          client,
		name:            name,
		redeliveryDelay: DefaultRedeliveryDelay,
		maxAttempts:     DefaultMaxAttempts,
		clock:           time.Now,
	}
}

// WithRedelivery overrides the redelivery delay and attempt cap.
func (q *RedisQueue) WithRedelivery(delay time.Duration, maxAttempts int) *RedisQueue {
	q.redeliveryDelay = delay
	q.maxAttempts = maxAttempts
	return q
}

func (q *RedisQueue) delayedKey() string { return "queue:" + q.name + ":delayed" }
func (q *RedisQueue) readyKey() string   { return "queue:" + q.name + ":ready" }

func (q *RedisQueue) Send(ctx context.Context, body []byte, delay time.Duration) error {
	return q.push(ctx, Message{Body: body, Attempt: 1}, delay)
}

func (q *RedisQueue) push(ctx context.Context, msg Message, delay time.Duration) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue %s: marshal message: %w", q.name, err)
	}

	if delay <= 0 {
		if err := q.client.RPush(ctx, q.readyKey(), payload).Err(); err != nil {
			return fmt.Errorf("queue %s: push ready: %w", q.name, err)
		}
		return nil
	}

	due := q.clock().Add(delay)
	err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(due.Unix()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("queue %s: push delayed: %w", q.name, err)
	}
	return nil
}

// Receive promotes due deferred messages into the ready list, then pops one.
// Returns nil when nothing is due.
func (q *RedisQueue) Receive(ctx context.Context) (*Message, error) {
	if err := q.moveDue(ctx); err != nil {
		return nil, err
	}

	payload, err := q.client.LPop(ctx, q.readyKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue %s: pop ready: %w", q.name, err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("queue %s: unmarshal message: %w", q.name, err)
	}
	return &msg, nil
}

// moveDue promotes members with score <= now. ZRem and RPush run in one
// transactional pipeline so a message is never in both places or neither.
func (q *RedisQueue) moveDue(ctx context.Context) error {
	now := q.clock().Unix()
	members, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: moveBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("queue %s: range delayed: %w", q.name, err)
	}
	if len(members) == 0 {
		return nil
	}

	pipe := q.client.TxPipeline()
	for _, m := range members {
		pipe.ZRem(ctx, q.delayedKey(), m)
		pipe.RPush(ctx, q.readyKey(), m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue %s: promote due: %w", q.name, err)
	}
	return nil
}

// Redeliver re-queues a failed message after the redelivery delay with its
// attempt count advanced. Past the attempt cap the message is dropped.
func (q *RedisQueue) Redeliver(ctx context.Context, msg *Message) error {
	if msg.Attempt >= q.maxAttempts {
		log.Printf("queue: dropping message after %d attempts (queue=%s)", msg.Attempt, q.name)
		return nil
	}
	return q.push(ctx, Message{Body: msg.Body, Attempt: msg.Attempt + 1}, q.redeliveryDelay)
}

var _ Queue = (*RedisQueue)(nil)
