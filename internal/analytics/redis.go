// Package analytics records best-effort per-schedule occurrence counters
// in Redis. Counters never affect dispatch or recording correctness.
package analytics

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRetention is how long occurrence counters live.
const DefaultRetention = 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client, retention: DefaultRetention}
}

// WithRetention overrides the counter TTL.
func (s *RedisSink) WithRetention(retention time.Duration) *RedisSink {
	s.retention = retention
	return s
}

// OccurrenceRecorded increments the minute and hour buckets for the
// schedule. Errors are logged, never propagated.
func (s *RedisSink) OccurrenceRecorded(ctx context.Context, scheduleID uuid.UUID, at time.Time) {
	at = at.UTC()

	pipe := s.client.Pipeline()
	for _, key := range []string{
		"sched:" + scheduleID.String() + ":runs:m:" + at.Format("200601021504"),
		"sched:" + scheduleID.String() + ":runs:h:" + at.Format("2006010215"),
	} {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, s.retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: record occurrence schedule=%s: %v", scheduleID, err)
	}
}
