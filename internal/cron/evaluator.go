package cron

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidExpression reports a malformed cron expression or timezone.
// Callers must treat it distinctly from the absence of a next occurrence:
// a schedule with an unparsable expression stays persisted but inert.
var ErrInvalidExpression = errors.New("invalid cron expression")

// Options bound and localize an evaluation.
type Options struct {
	// Timezone is an IANA zone name. Empty means UTC; this fixed fallback
	// keeps evaluation deterministic, and two schedules with the same
	// wall-clock expression in different zones are different instants.
	Timezone string

	// ActiveFrom and ActiveUntil bound the occurrence to [from, until).
	// An occurrence exactly at ActiveFrom is eligible; one at or after
	// ActiveUntil is not.
	ActiveFrom  *time.Time
	ActiveUntil *time.Time
}

// Evaluator computes next occurrences of 5-field, minute-granularity cron
// expressions. It is stateless: NextRun is pure and deterministic for a
// fixed (expression, now, options) input.
type Evaluator struct {
	parser cron.Parser
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// NextRun returns the next occurrence of expression strictly after now,
// clamped to the active bounds, in UTC. A nil result with a nil error means
// no further occurrence exists within bounds.
func (e *Evaluator) NextRun(expression string, now time.Time, opts Options) (*time.Time, error) {
	sched, err := e.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	tz := opts.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: load timezone %q: %v", ErrInvalidExpression, tz, err)
	}

	after := now
	if opts.ActiveFrom != nil && after.Before(*opts.ActiveFrom) {
		// Next is strictly-after, so back off a nanosecond to keep an
		// occurrence exactly at ActiveFrom eligible.
		after = opts.ActiveFrom.Add(-time.Nanosecond)
	}

	next := sched.Next(after.In(loc))
	if next.IsZero() {
		return nil, nil
	}
	if opts.ActiveUntil != nil && !next.Before(*opts.ActiveUntil) {
		return nil, nil
	}

	next = next.UTC()
	return &next, nil
}
