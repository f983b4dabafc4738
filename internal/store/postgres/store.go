package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/buithaibinh/cron-solution-stack/internal/api"
	"github.com/buithaibinh/cron-solution-stack/internal/consumer"
	"github.com/buithaibinh/cron-solution-stack/internal/domain"
	"github.com/buithaibinh/cron-solution-stack/internal/poller"
	"github.com/buithaibinh/cron-solution-stack/internal/reconciler"
)

// Store persists schedules and history records in one PostgreSQL table
// keyed by id, with a secondary index on (kind, next_run) backing the
// due-window scans. Reads are strongly consistent.
//
// Put is a last-writer-wins full overwrite: there is no version column, so
// an administrative update racing a dispatch-triggered recompute can lose
// its write. Known limitation, carried from the source system.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a store over an open database handle. opTimeout bounds each
// operation; zero disables the per-op deadline.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Get returns the record with the given id, or nil when none exists.
// Absence is not an error.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	sched, err := scanSchedule(s.db.QueryRowContext(ctx, queryGetSchedule, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return &sched, nil
}

// Put creates or fully overwrites a record. Writing the same record twice
// is observably a no-op.
func (s *Store) Put(ctx context.Context, sched domain.Schedule) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var scheduleID uuid.NullUUID
	if sched.ScheduleID != nil {
		scheduleID = uuid.NullUUID{UUID: *sched.ScheduleID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, queryPutSchedule,
		sched.ID,
		string(sched.Kind),
		sched.Expression,
		sched.Timezone,
		nullTime(sched.ActiveFrom),
		nullTime(sched.ActiveUntil),
		nullTime(sched.NextRun),
		nullTime(sched.LastRun),
		scheduleID,
		sched.CreatedAt,
		sched.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put schedule %s: %w", sched.ID, err)
	}
	return nil
}

// Delete removes a record. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, queryDeleteSchedule, id); err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	return nil
}

// ListAll returns all records of both kinds, newest first, paginated by
// limit and offset. Administrative use only.
func (s *Store) ListAll(ctx context.Context, limit, offset int) ([]domain.Schedule, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListAll, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return collectSchedules(rows)
}

// ListDueBetween returns live schedules with next_run in [start, end),
// ordered by next_run. Records with an absent next_run are excluded by the
// index predicate.
func (s *Store) ListDueBetween(ctx context.Context, start, end time.Time) ([]domain.Schedule, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListDueBetween, start, end)
	if err != nil {
		return nil, fmt.Errorf("list due schedules [%s, %s): %w",
			start.Format(time.RFC3339), end.Format(time.RFC3339), err)
	}
	return collectSchedules(rows)
}

// ListOverdue returns live schedules whose next_run is before olderThan,
// oldest first, capped at limit. Feed for the reconciler.
func (s *Store) ListOverdue(ctx context.Context, olderThan time.Time, limit int) ([]domain.Schedule, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListOverdue, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue schedules before %s: %w",
			olderThan.Format(time.RFC3339), err)
	}
	return collectSchedules(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (domain.Schedule, error) {
	var (
		sched       domain.Schedule
		kind        string
		timezone    sql.NullString
		activeFrom  sql.NullTime
		activeUntil sql.NullTime
		nextRun     sql.NullTime
		lastRun     sql.NullTime
		scheduleID  uuid.NullUUID
	)

	err := row.Scan(
		&sched.ID,
		&kind,
		&sched.Expression,
		&timezone,
		&activeFrom,
		&activeUntil,
		&nextRun,
		&lastRun,
		&scheduleID,
		&sched.CreatedAt,
		&sched.UpdatedAt,
	)
	if err != nil {
		return domain.Schedule{}, err
	}

	sched.Kind = domain.Kind(kind)
	sched.Timezone = timezone.String
	sched.ActiveFrom = timePtr(activeFrom)
	sched.ActiveUntil = timePtr(activeUntil)
	sched.NextRun = timePtr(nextRun)
	sched.LastRun = timePtr(lastRun)
	if scheduleID.Valid {
		id := scheduleID.UUID
		sched.ScheduleID = &id
	}
	return sched, nil
}

func collectSchedules(rows *sql.Rows) ([]domain.Schedule, error) {
	defer rows.Close()

	var result []domain.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		result = append(result, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return result, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

// Compile-time interface assertions
var (
	_ poller.Store     = (*Store)(nil)
	_ consumer.Store   = (*Store)(nil)
	_ reconciler.Store = (*Store)(nil)
	_ api.Store        = (*Store)(nil)
)
