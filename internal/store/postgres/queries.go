package postgres

const scheduleColumns = `
    id, kind, expression, timezone, active_from, active_until,
    next_run, last_run, schedule_id, created_at, updated_at`

const queryGetSchedule = `
SELECT` + scheduleColumns + `
FROM schedules
WHERE id = $1
`

const queryPutSchedule = `
INSERT INTO schedules (id, kind, expression, timezone, active_from, active_until, next_run, last_run, schedule_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
    kind = EXCLUDED.kind,
    expression = EXCLUDED.expression,
    timezone = EXCLUDED.timezone,
    active_from = EXCLUDED.active_from,
    active_until = EXCLUDED.active_until,
    next_run = EXCLUDED.next_run,
    last_run = EXCLUDED.last_run,
    schedule_id = EXCLUDED.schedule_id,
    updated_at = EXCLUDED.updated_at
`

const queryDeleteSchedule = `
DELETE FROM schedules WHERE id = $1
`

const queryListAll = `
SELECT` + scheduleColumns + `
FROM schedules
ORDER BY created_at DESC, id
LIMIT $1 OFFSET $2
`

const queryListDueBetween = `
SELECT` + scheduleColumns + `
FROM schedules
WHERE kind = 'Schedule'
  AND next_run >= $1
  AND next_run < $2
ORDER BY next_run ASC
`

const queryListOverdue = `
SELECT` + scheduleColumns + `
FROM schedules
WHERE kind = 'Schedule'
  AND next_run IS NOT NULL
  AND next_run < $1
ORDER BY next_run ASC
LIMIT $2
`
