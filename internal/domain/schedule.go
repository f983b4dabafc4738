package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the two record kinds sharing the schedules table.
// It is also the partition key of the (kind, next_run) index.
type Kind string

const (
	KindSchedule Kind = "Schedule"
	KindHistory  Kind = "ScheduleHistory"
)

// DefaultExpression is applied when a schedule is created without one.
const DefaultExpression = "*/10 * * * *"

var ErrInvalidBounds = errors.New("startDate must be before endDate")

// Schedule is a recurring job definition or, when Kind is KindHistory, an
// immutable record of one executed occurrence of a schedule.
//
// The JSON field names are the wire format shared by the HTTP API and the
// delay-queue message body.
type Schedule struct {
	ID         uuid.UUID `json:"id"`
	Expression string    `json:"expression"`
	Timezone   string    `json:"tz,omitempty"` // IANA zone; empty means UTC

	ActiveFrom  *time.Time `json:"startDate,omitempty"`
	ActiveUntil *time.Time `json:"endDate,omitempty"`

	// NextRun is derived from Expression, bounds and Timezone. It is
	// recomputed on every write and never accepted from a client. Absent
	// when the expression yields no further occurrence.
	NextRun *time.Time `json:"nextRun,omitempty"`
	// LastRun is the instant of the most recent dispatch; absent until the
	// schedule first runs.
	LastRun *time.Time `json:"lastRun,omitempty"`

	// ScheduleID back-references the originating schedule on history
	// records. Always nil on live schedules.
	ScheduleID *uuid.UUID `json:"scheduleId,omitempty"`

	Kind Kind `json:"__type"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Params carries the caller-supplied fields of a schedule. Derived fields
// (NextRun, LastRun) are never part of Params.
type Params struct {
	Expression  string
	Timezone    string
	ActiveFrom  *time.Time
	ActiveUntil *time.Time
}

// NewSchedule builds a live schedule from fully specified params. The
// expression is defaulted when empty and the active bounds are validated.
// NextRun is left unset; callers derive it with the evaluator before
// persisting.
func NewSchedule(id uuid.UUID, p Params, now time.Time) (Schedule, error) {
	if p.Expression == "" {
		p.Expression = DefaultExpression
	}
	if p.ActiveFrom != nil && p.ActiveUntil != nil && !p.ActiveFrom.Before(*p.ActiveUntil) {
		return Schedule{}, fmt.Errorf("schedule %s: %w", id, ErrInvalidBounds)
	}
	return Schedule{
		ID:          id,
		Kind:        KindSchedule,
		Expression:  p.Expression,
		Timezone:    p.Timezone,
		ActiveFrom:  p.ActiveFrom,
		ActiveUntil: p.ActiveUntil,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NewHistory copies a dispatched schedule into a write-once history record
// with its own id and a back-reference to the originating schedule.
func NewHistory(sched Schedule, historyID uuid.UUID, lastRun time.Time) Schedule {
	h := sched
	h.ID = historyID
	h.Kind = KindHistory
	scheduleID := sched.ID
	h.ScheduleID = &scheduleID
	h.LastRun = &lastRun
	h.CreatedAt = lastRun
	h.UpdatedAt = lastRun
	return h
}
