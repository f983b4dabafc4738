package poller

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/buithaibinh/cron-solution-stack/internal/domain"
	"github.com/buithaibinh/cron-solution-stack/internal/testutil"
)

type fakeStore struct {
	schedules []domain.Schedule
	err       error

	mu      sync.Mutex
	windows [][2]time.Time
}

func (s *fakeStore) ListDueBetween(ctx context.Context, start, end time.Time) ([]domain.Schedule, error) {
	s.mu.Lock()
	s.windows = append(s.windows, [2]time.Time{start, end})
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.schedules, nil
}

type sentMessage struct {
	body  []byte
	delay time.Duration
}

type fakeQueue struct {
	mu     sync.Mutex
	sent   []sentMessage
	failID uuid.UUID // Send fails for bodies carrying this schedule id
}

func (q *fakeQueue) Send(ctx context.Context, body []byte, delay time.Duration) error {
	var sched domain.Schedule
	if err := json.Unmarshal(body, &sched); err == nil && sched.ID == q.failID && q.failID != uuid.Nil {
		return errors.New("queue unavailable")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, sentMessage{body: body, delay: delay})
	return nil
}

func (q *fakeQueue) messages(t *testing.T) []domain.Schedule {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Schedule, 0, len(q.sent))
	for _, m := range q.sent {
		var sched domain.Schedule
		if err := json.Unmarshal(m.body, &sched); err != nil {
			t.Fatalf("unmarshal sent body: %v", err)
		}
		out = append(out, sched)
	}
	return out
}

func newTestPoller(store *fakeStore, q *fakeQueue, now time.Time) *Poller {
	p := New(DefaultConfig(), store, q)
	p.clock = func() time.Time { return now }
	return p
}

func TestTick_WindowBounds(t *testing.T) {
	store := &fakeStore{}
	q := &fakeQueue{}
	now := testutil.MustParseTime("2024-01-15T10:08:00Z")
	p := newTestPoller(store, q, now)

	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	if len(store.windows) != 1 {
		t.Fatalf("expected 1 store query, got %d", len(store.windows))
	}
	wantStart := testutil.MustParseTime("2024-01-15T10:10:00Z")
	wantEnd := testutil.MustParseTime("2024-01-15T10:20:00Z")
	if !store.windows[0][0].Equal(wantStart) || !store.windows[0][1].Equal(wantEnd) {
		t.Errorf("window = [%v, %v), want [%v, %v)",
			store.windows[0][0], store.windows[0][1], wantStart, wantEnd)
	}
}

func TestTick_WindowBoundsSnapToMinute(t *testing.T) {
	store := &fakeStore{}
	q := &fakeQueue{}
	// Seconds past the minute must not shift the window.
	now := testutil.MustParseTime("2024-01-15T10:08:37Z")
	p := newTestPoller(store, q, now)

	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	wantStart := testutil.MustParseTime("2024-01-15T10:10:00Z")
	if !store.windows[0][0].Equal(wantStart) {
		t.Errorf("window start = %v, want %v", store.windows[0][0], wantStart)
	}
}

func TestTick_DelayMatchesDueTime(t *testing.T) {
	now := testutil.MustParseTime("2024-01-15T10:08:00Z")
	due := testutil.MustParseTime("2024-01-15T10:10:00Z")
	store := &fakeStore{schedules: []domain.Schedule{
		testutil.NewSchedule(uuid.New(), "*/10 * * * *", due, now),
	}}
	q := &fakeQueue{}
	p := newTestPoller(store, q, now)

	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	if len(q.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(q.sent))
	}
	if q.sent[0].delay != 2*time.Minute {
		t.Errorf("delay = %v, want 2m", q.sent[0].delay)
	}
}

func TestTick_MessageCarriesSnapshot(t *testing.T) {
	now := testutil.MustParseTime("2024-01-15T10:08:00Z")
	due := testutil.MustParseTime("2024-01-15T10:15:00Z")
	id := uuid.New()
	store := &fakeStore{schedules: []domain.Schedule{
		testutil.NewSchedule(id, "15 * * * *", due, now),
	}}
	q := &fakeQueue{}
	p := newTestPoller(store, q, now)

	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	msgs := q.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].ID != id || msgs[0].Expression != "15 * * * *" {
		t.Errorf("message snapshot mismatch: %+v", msgs[0])
	}
	if msgs[0].NextRun == nil || !msgs[0].NextRun.Equal(due) {
		t.Errorf("message NextRun = %v, want %v", msgs[0].NextRun, due)
	}
}

func TestTick_FanOutAll(t *testing.T) {
	now := testutil.MustParseTime("2024-01-15T10:08:00Z")
	store := &fakeStore{}
	for i := 0; i < 20; i++ {
		due := now.Add(time.Duration(2+i%10) * time.Minute)
		store.schedules = append(store.schedules,
			testutil.NewSchedule(uuid.New(), "*/10 * * * *", due, now))
	}
	q := &fakeQueue{}
	p := newTestPoller(store, q, now)

	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if len(q.sent) != 20 {
		t.Errorf("expected 20 sends, got %d", len(q.sent))
	}
}

func TestTick_PartialFailureFailsTick(t *testing.T) {
	now := testutil.MustParseTime("2024-01-15T10:08:00Z")
	due := now.Add(3 * time.Minute)
	failing := uuid.New()
	store := &fakeStore{schedules: []domain.Schedule{
		testutil.NewSchedule(uuid.New(), "* * * * *", due, now),
		testutil.NewSchedule(failing, "* * * * *", due, now),
		testutil.NewSchedule(uuid.New(), "* * * * *", due, now),
	}}
	q := &fakeQueue{failID: failing}
	p := newTestPoller(store, q, now)

	err := p.Tick(context.Background())
	if err == nil {
		t.Fatal("expected tick to fail when one dispatch fails")
	}
	if !strings.Contains(err.Error(), "1 of 3 dispatches failed") {
		t.Errorf("error should report partial outcome: %v", err)
	}
	// The other sends still complete.
	if len(q.sent) != 2 {
		t.Errorf("expected 2 successful sends, got %d", len(q.sent))
	}
}

func TestTick_SkipsNilNextRun(t *testing.T) {
	now := testutil.MustParseTime("2024-01-15T10:08:00Z")
	inert, err := domain.NewSchedule(uuid.New(), domain.Params{Expression: "garbage"}, now)
	if err != nil {
		t.Fatalf("NewSchedule failed: %v", err)
	}
	store := &fakeStore{schedules: []domain.Schedule{inert}}
	q := &fakeQueue{}
	p := newTestPoller(store, q, now)

	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if len(q.sent) != 0 {
		t.Errorf("expected no sends for schedule without next run, got %d", len(q.sent))
	}
}

func TestTick_StoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	q := &fakeQueue{}
	now := testutil.MustParseTime("2024-01-15T10:08:00Z")
	p := newTestPoller(store, q, now)

	err := p.Tick(context.Background())
	if err == nil {
		t.Fatal("expected tick to fail on store error")
	}
	if !strings.Contains(err.Error(), "list due schedules") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConsecutiveWindowsTile(t *testing.T) {
	store := &fakeStore{}
	q := &fakeQueue{}
	now := testutil.MustParseTime("2024-01-15T10:08:00Z")
	p := newTestPoller(store, q, now)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tick := now.Add(time.Duration(i) * 10 * time.Minute)
		p.clock = func() time.Time { return tick }
		if err := p.Tick(ctx); err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
	}

	// Every window starts exactly where the previous one ended.
	for i := 1; i < len(store.windows); i++ {
		if !store.windows[i][0].Equal(store.windows[i-1][1]) {
			t.Errorf("window %d starts at %v, previous ended at %v",
				i, store.windows[i][0], store.windows[i-1][1])
		}
	}
}

func TestNextAlignedTick(t *testing.T) {
	interval := 10 * time.Minute
	offset := 8 * time.Minute

	tests := []struct {
		name string
		now  string
		want string
	}{
		{"top of hour", "2024-01-15T10:00:00Z", "2024-01-15T10:08:00Z"},
		{"exactly on grid", "2024-01-15T10:08:00Z", "2024-01-15T10:08:00Z"},
		{"just past grid", "2024-01-15T10:08:01Z", "2024-01-15T10:18:00Z"},
		{"mid slot", "2024-01-15T10:33:00Z", "2024-01-15T10:38:00Z"},
		{"before first slot", "2024-01-15T10:03:00Z", "2024-01-15T10:08:00Z"},
		{"end of hour", "2024-01-15T10:59:00Z", "2024-01-15T11:08:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextAlignedTick(testutil.MustParseTime(tt.now), interval, offset)
			want := testutil.MustParseTime(tt.want)
			if !got.Equal(want) {
				t.Errorf("nextAlignedTick(%s) = %v, want %v", tt.now, got, want)
			}
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	q := &fakeQueue{}
	p := New(Config{
		TickInterval: 10 * time.Millisecond,
		TickOffset:   0,
		WindowLead:   2 * time.Minute,
		WindowSpan:   10 * time.Millisecond,
	}, store, q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
