// Package api is the administrative CRUD surface over the schedule store.
// Authentication and authorization live outside this process; callers are
// treated as opaque.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/buithaibinh/cron-solution-stack/internal/cron"
	"github.com/buithaibinh/cron-solution-stack/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Default due window for GET /schedules/due without explicit bounds,
// mirroring the poller's lookahead.
const (
	defaultDueLead = 2 * time.Minute
	defaultDueSpan = 10 * time.Minute
)

type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	Put(ctx context.Context, sched domain.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListAll(ctx context.Context, limit, offset int) ([]domain.Schedule, error)
	ListDueBetween(ctx context.Context, start, end time.Time) ([]domain.Schedule, error)
}

type Evaluator interface {
	NextRun(expression string, now time.Time, opts cron.Options) (*time.Time, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store     Store
	evaluator Evaluator
	clock     func() time.Time
	db        HealthChecker
	dueLead   time.Duration
	dueSpan   time.Duration
}

func NewHandler(store Store, evaluator Evaluator) *Handler {
	return &Handler{
		store:     store,
		evaluator: evaluator,
		clock:     time.Now,
		dueLead:   defaultDueLead,
		dueSpan:   defaultDueSpan,
	}
}

// WithHealthChecker sets the database health checker for verbose /health
// responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithDueWindow aligns the default /schedules/due window with the poller's.
func (h *Handler) WithDueWindow(lead, span time.Duration) *Handler {
	h.dueLead = lead
	h.dueSpan = span
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/schedules" && r.Method == http.MethodPost:
		h.createSchedule(w, r)

	case path == "/schedules" && r.Method == http.MethodGet:
		h.listSchedules(w, r)

	case path == "/schedules/due" && r.Method == http.MethodGet:
		h.listDue(w, r)

	case strings.HasPrefix(path, "/schedules/") && r.Method == http.MethodGet:
		h.getSchedule(w, r)

	case strings.HasPrefix(path, "/schedules/") && r.Method == http.MethodPut:
		h.updateSchedule(w, r)

	case strings.HasPrefix(path, "/schedules/") && r.Method == http.MethodDelete:
		h.deleteSchedule(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	if req.ID != "" {
		writeError(w, http.StatusBadRequest,
			"POST /schedules auto assigns an id; use PUT /schedules/{id} to update")
		return
	}

	params, err := parseParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.clock().UTC()
	sched, err := domain.NewSchedule(uuid.New(), params, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.deriveNextRun(&sched, now)

	if err := h.store.Put(r.Context(), sched); err != nil {
		log.Printf("api: create schedule error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}

	writeJSON(w, http.StatusCreated, sched)
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r)
	if !ok {
		return
	}

	sched, err := h.store.Get(r.Context(), id)
	if err != nil {
		log.Printf("api: get schedule error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get schedule")
		return
	}
	if sched == nil {
		writeError(w, http.StatusNotFound, "schedule with id "+id.String()+" was not found")
		return
	}

	writeJSON(w, http.StatusOK, sched)
}

func (h *Handler) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r)
	if !ok {
		return
	}

	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	if req.ID != "" && req.ID != id.String() {
		writeError(w, http.StatusBadRequest, "schedule id doesn't match request path")
		return
	}

	params, err := parseParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.store.Get(r.Context(), id)
	if err != nil {
		log.Printf("api: update schedule error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update schedule")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "schedule with id "+id.String()+" was not found")
		return
	}

	now := h.clock().UTC()
	sched, err := domain.NewSchedule(id, params, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Derived and historical fields survive the overwrite.
	sched.LastRun = existing.LastRun
	sched.CreatedAt = existing.CreatedAt
	h.deriveNextRun(&sched, now)

	if err := h.store.Put(r.Context(), sched); err != nil {
		log.Printf("api: update schedule error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update schedule")
		return
	}

	writeJSON(w, http.StatusOK, sched)
}

func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r)
	if !ok {
		return
	}

	sched, err := h.store.Get(r.Context(), id)
	if err != nil {
		log.Printf("api: delete schedule error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}
	if sched == nil {
		writeError(w, http.StatusNotFound, "schedule with id "+id.String()+" was not found")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		log.Printf("api: delete schedule error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}

	// The deleted entity is returned, not a bare 204.
	writeJSON(w, http.StatusOK, sched)
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	schedules, err := h.store.ListAll(r.Context(), limit, offset)
	if err != nil {
		log.Printf("api: list schedules error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	if schedules == nil {
		schedules = []domain.Schedule{}
	}

	writeJSON(w, http.StatusOK, schedules)
}

func (h *Handler) listDue(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC().Truncate(time.Minute)
	start := now.Add(h.dueLead)
	end := start.Add(h.dueSpan)

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
			return
		}
		start = t.UTC()
		end = start.Add(h.dueSpan)
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
			return
		}
		end = t.UTC()
	}
	if !start.Before(end) {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}

	schedules, err := h.store.ListDueBetween(r.Context(), start, end)
	if err != nil {
		log.Printf("api: list due schedules error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list due schedules")
		return
	}
	if schedules == nil {
		schedules = []domain.Schedule{}
	}

	writeJSON(w, http.StatusOK, schedules)
}

// deriveNextRun computes the schedule's next run in place. An unparsable
// expression is not a write-path failure: the schedule persists with an
// absent next run and never enters a due window.
func (h *Handler) deriveNextRun(sched *domain.Schedule, now time.Time) {
	next, err := h.evaluator.NextRun(sched.Expression, now, cron.Options{
		Timezone:    sched.Timezone,
		ActiveFrom:  sched.ActiveFrom,
		ActiveUntil: sched.ActiveUntil,
	})
	if err != nil {
		if !errors.Is(err, cron.ErrInvalidExpression) {
			log.Printf("api: derive next run schedule=%s: %v", sched.ID, err)
		}
		sched.NextRun = nil
		return
	}
	sched.NextRun = next
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (ScheduleRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return ScheduleRequest{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return ScheduleRequest{}, false
	}
	return req, true
}

// scheduleID extracts the id from a /schedules/{id} path.
func scheduleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "schedules" {
		writeError(w, http.StatusNotFound, "not found")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
