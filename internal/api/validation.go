package api

import (
	"fmt"
	"time"

	"github.com/buithaibinh/cron-solution-stack/internal/domain"
)

// parseParams converts a wire request into schedule params.
//
// The cron expression is deliberately NOT validated here: a schedule with
// an unparsable expression is created anyway and simply never yields a
// next run. Dates and timezone are shape-checked because they cannot be
// stored meaningfully when malformed.
func parseParams(req ScheduleRequest) (domain.Params, error) {
	p := domain.Params{
		Expression: req.Expression,
		Timezone:   req.Timezone,
	}

	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return domain.Params{}, fmt.Errorf("invalid tz: %v", err)
		}
	}

	if req.StartDate != "" {
		t, err := time.Parse(time.RFC3339, req.StartDate)
		if err != nil {
			return domain.Params{}, fmt.Errorf("invalid startDate: %v", err)
		}
		utc := t.UTC()
		p.ActiveFrom = &utc
	}

	if req.EndDate != "" {
		t, err := time.Parse(time.RFC3339, req.EndDate)
		if err != nil {
			return domain.Params{}, fmt.Errorf("invalid endDate: %v", err)
		}
		utc := t.UTC()
		p.ActiveUntil = &utc
	}

	return p, nil
}
