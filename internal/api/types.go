package api

// ScheduleRequest is the client-supplied portion of a schedule in the wire
// format. nextRun and lastRun are derived fields; values sent by a client
// are ignored, never stored.
type ScheduleRequest struct {
	ID         string `json:"id,omitempty"`
	Expression string `json:"expression,omitempty"`
	Timezone   string `json:"tz,omitempty"`
	StartDate  string `json:"startDate,omitempty"`
	EndDate    string `json:"endDate,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}
