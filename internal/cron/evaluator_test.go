package cron

import (
	"errors"
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return parsed.UTC()
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestNextRun_EveryTenMinutes(t *testing.T) {
	e := NewEvaluator()
	now := mustTime(t, "2024-01-15T00:00:00Z")

	next, err := e.NextRun("*/10 * * * *", now, Options{})
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	want := mustTime(t, "2024-01-15T00:10:00Z")
	if next == nil || !next.Equal(want) {
		t.Errorf("NextRun = %v, want %v", next, want)
	}
}

func TestNextRun_StrictlyAfterNow(t *testing.T) {
	e := NewEvaluator()
	// now exactly on the boundary must yield the following occurrence,
	// not now itself.
	now := mustTime(t, "2024-01-15T00:10:00Z")

	next, err := e.NextRun("*/10 * * * *", now, Options{})
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	want := mustTime(t, "2024-01-15T00:20:00Z")
	if next == nil || !next.Equal(want) {
		t.Errorf("NextRun = %v, want %v", next, want)
	}
}

func TestNextRun_Deterministic(t *testing.T) {
	e := NewEvaluator()
	now := mustTime(t, "2024-03-01T09:30:00Z")
	opts := Options{Timezone: "Europe/Paris"}

	first, err := e.NextRun("0 12 * * 1", now, opts)
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.NextRun("0 12 * * 1", now, opts)
		if err != nil {
			t.Fatalf("NextRun failed on repeat: %v", err)
		}
		if !again.Equal(*first) {
			t.Fatalf("NextRun not deterministic: %v vs %v", again, first)
		}
	}
}

func TestNextRun_InvalidExpression(t *testing.T) {
	e := NewEvaluator()
	now := mustTime(t, "2024-01-15T00:00:00Z")

	tests := []string{
		"not a cron",
		"61 * * * *",
		"* * * *",
		"@reboot",
	}
	for _, expr := range tests {
		_, err := e.NextRun(expr, now, Options{})
		if !errors.Is(err, ErrInvalidExpression) {
			t.Errorf("NextRun(%q): expected ErrInvalidExpression, got %v", expr, err)
		}
	}
}

func TestNextRun_InvalidTimezone(t *testing.T) {
	e := NewEvaluator()
	now := mustTime(t, "2024-01-15T00:00:00Z")

	_, err := e.NextRun("* * * * *", now, Options{Timezone: "Mars/Olympus"})
	if !errors.Is(err, ErrInvalidExpression) {
		t.Errorf("expected ErrInvalidExpression for bad timezone, got %v", err)
	}
}

func TestNextRun_TimezoneChangesInstant(t *testing.T) {
	e := NewEvaluator()
	now := mustTime(t, "2024-06-01T00:00:00Z")

	utc, err := e.NextRun("0 9 * * *", now, Options{})
	if err != nil {
		t.Fatalf("NextRun utc failed: %v", err)
	}
	tokyo, err := e.NextRun("0 9 * * *", now, Options{Timezone: "Asia/Tokyo"})
	if err != nil {
		t.Fatalf("NextRun tokyo failed: %v", err)
	}

	// 09:00 Tokyo is 00:00 UTC; same wall clock, different instants.
	if utc.Equal(*tokyo) {
		t.Errorf("expected different instants for UTC and Tokyo, both %v", utc)
	}
	wantTokyo := mustTime(t, "2024-06-02T00:00:00Z")
	if !tokyo.Equal(wantTokyo) {
		t.Errorf("tokyo NextRun = %v, want %v", tokyo, wantTokyo)
	}
}

func TestNextRun_ResultIsUTC(t *testing.T) {
	e := NewEvaluator()
	now := mustTime(t, "2024-06-01T00:00:00Z")

	next, err := e.NextRun("30 14 * * *", now, Options{Timezone: "America/New_York"})
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	if next.Location() != time.UTC {
		t.Errorf("NextRun location = %v, want UTC", next.Location())
	}
}

func TestNextRun_ActiveFromClamp(t *testing.T) {
	e := NewEvaluator()
	now := mustTime(t, "2024-01-01T00:00:00Z")
	from := mustTime(t, "2024-02-01T00:00:00Z")

	next, err := e.NextRun("0 * * * *", now, Options{ActiveFrom: timePtr(from)})
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	// An occurrence exactly at ActiveFrom is eligible.
	if next == nil || !next.Equal(from) {
		t.Errorf("NextRun = %v, want %v (occurrence at ActiveFrom)", next, from)
	}
}

func TestNextRun_ActiveFromInPast(t *testing.T) {
	e := NewEvaluator()
	now := mustTime(t, "2024-03-15T10:05:00Z")
	from := mustTime(t, "2024-01-01T00:00:00Z")

	next, err := e.NextRun("*/10 * * * *", now, Options{ActiveFrom: timePtr(from)})
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	// A past ActiveFrom must not rewind evaluation behind now.
	want := mustTime(t, "2024-03-15T10:10:00Z")
	if next == nil || !next.Equal(want) {
		t.Errorf("NextRun = %v, want %v", next, want)
	}
}

func TestNextRun_ActiveUntilExclusive(t *testing.T) {
	e := NewEvaluator()
	now := mustTime(t, "2024-01-15T11:30:00Z")
	until := mustTime(t, "2024-01-15T12:00:00Z")

	// Next occurrence would be exactly at ActiveUntil: excluded.
	next, err := e.NextRun("0 12 * * *", now, Options{ActiveUntil: timePtr(until)})
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	if next != nil {
		t.Errorf("NextRun = %v, want nil (occurrence at ActiveUntil excluded)", next)
	}

	// One minute more headroom and it fits.
	later := until.Add(time.Minute)
	next, err = e.NextRun("0 12 * * *", now, Options{ActiveUntil: timePtr(later)})
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	if next == nil || !next.Equal(until) {
		t.Errorf("NextRun = %v, want %v", next, until)
	}
}

func TestNextRun_ExpiredWindow(t *testing.T) {
	e := NewEvaluator()
	now := mustTime(t, "2024-06-01T00:00:00Z")
	until := mustTime(t, "2024-01-01T00:00:00Z")

	next, err := e.NextRun("* * * * *", now, Options{ActiveUntil: timePtr(until)})
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	if next != nil {
		t.Errorf("NextRun = %v, want nil for expired window", next)
	}
}

func TestNextRun_DSTSpringForward(t *testing.T) {
	e := NewEvaluator()
	// US eastern time skips 02:00-03:00 on 2024-03-10.
	now := mustTime(t, "2024-03-10T05:00:00Z") // 00:00 EST

	next, err := e.NextRun("30 2 * * *", now, Options{Timezone: "America/New_York"})
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	if next == nil {
		t.Fatal("NextRun = nil, want an occurrence")
	}
	// 02:30 local does not exist on the gap day; the library lands after
	// the gap. Whatever the policy, the result must be after now and on a
	// later evaluation it must strictly advance.
	if !next.After(now) {
		t.Errorf("NextRun = %v, not after now %v", next, now)
	}
	following, err := e.NextRun("30 2 * * *", *next, Options{Timezone: "America/New_York"})
	if err != nil {
		t.Fatalf("NextRun failed: %v", err)
	}
	if following == nil || !following.After(*next) {
		t.Errorf("following occurrence %v does not advance past %v", following, next)
	}
}
