package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// QUEUE_MODE must be "redis" or "channel"
	if cfg.QueueMode != "" && cfg.QueueMode != "redis" && cfg.QueueMode != "channel" {
		errs = append(errs, ValidationError{
			Field:   "QUEUE_MODE",
			Message: fmt.Sprintf("must be 'redis' or 'channel', got %q", cfg.QueueMode),
		})
	}

	// REDIS_ADDR is required when the queue or analytics need a Redis client
	if cfg.RedisAddr == "" && cfg.QueueMode == "redis" {
		errs = append(errs, ValidationError{
			Field:   "REDIS_ADDR",
			Message: "required when QUEUE_MODE=redis",
		})
	}
	if cfg.RedisAddr == "" && cfg.AnalyticsEnabled {
		errs = append(errs, ValidationError{
			Field:   "REDIS_ADDR",
			Message: "required when ANALYTICS_ENABLED=true",
		})
	}

	for _, dur := range []struct {
		field string
		str   string
	}{
		{"TICK_INTERVAL", cfg.TickIntervalStr},
		{"WINDOW_LEAD", cfg.WindowLeadStr},
		{"WINDOW_SPAN", cfg.WindowSpanStr},
		{"CONSUMER_POLL_INTERVAL", cfg.ConsumerPollIntervalStr},
		{"REDELIVERY_DELAY", cfg.RedeliveryDelayStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"RECONCILE_INTERVAL", cfg.ReconcileIntervalStr},
		{"RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr},
	} {
		if dur.str == "" {
			continue
		}
		d, err := time.ParseDuration(dur.str)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: "must be positive",
			})
		}
	}

	// TICK_OFFSET may be zero but not negative or unparsable
	if cfg.TickOffsetStr != "" {
		d, err := time.ParseDuration(cfg.TickOffsetStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "TICK_OFFSET",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d < 0 {
			errs = append(errs, ValidationError{
				Field:   "TICK_OFFSET",
				Message: "must not be negative",
			})
		}
	}

	// Consecutive lookahead windows must tile exactly. A span shorter than
	// the tick interval leaves schedules undispatched; longer double-sends.
	if cfg.TickInterval > 0 && cfg.WindowSpan > 0 && cfg.WindowSpan != cfg.TickInterval {
		errs = append(errs, ValidationError{
			Field:   "WINDOW_SPAN",
			Message: fmt.Sprintf("must equal TICK_INTERVAL (%s) to cover every due time exactly once, got %s",
				cfg.TickInterval, cfg.WindowSpan),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
