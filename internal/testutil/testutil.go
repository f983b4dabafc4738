// Package testutil provides shared test helpers for cronstack.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/buithaibinh/cron-solution-stack/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MustParseUUID parses a UUID string and panics on error.
// Only for use in tests.
func MustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic("testutil.MustParseUUID: " + err.Error())
	}
	return id
}

// MustParseTime parses an RFC3339 timestamp and panics on error.
// Only for use in tests.
func MustParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic("testutil.MustParseTime: " + err.Error())
	}
	return t.UTC()
}

// NewSchedule builds a registered schedule with a computed next run, the
// shape the poller and consumer operate on. now becomes both CreatedAt
// and UpdatedAt.
func NewSchedule(id uuid.UUID, expression string, nextRun, now time.Time) domain.Schedule {
	next := nextRun.UTC()
	return domain.Schedule{
		ID:         id,
		Expression: expression,
		NextRun:    &next,
		Kind:       domain.KindSchedule,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
}
