package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		DatabaseURL:     "postgres://localhost/cronstack",
		RedisAddr:       "localhost:6379",
		QueueMode:       "redis",
		TickIntervalStr: "10m",
		TickInterval:    10 * time.Minute,
		WindowSpanStr:   "10m",
		WindowSpan:      10 * time.Minute,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("valid config should not return error, got: %v", err)
	}
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error should mention DATABASE_URL: %q", err.Error())
	}
}

func TestValidate_QueueMode(t *testing.T) {
	cfg := validConfig()
	cfg.QueueMode = "sqs"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown QUEUE_MODE")
	}
	if !strings.Contains(err.Error(), "QUEUE_MODE") {
		t.Errorf("error should mention QUEUE_MODE: %q", err.Error())
	}

	cfg.QueueMode = "channel"
	cfg.RedisAddr = ""
	if err := Validate(cfg); err != nil {
		t.Errorf("channel mode without redis should be valid, got: %v", err)
	}
}

func TestValidate_RedisAddrRequiredForRedisQueue(t *testing.T) {
	cfg := validConfig()
	cfg.RedisAddr = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing REDIS_ADDR with QUEUE_MODE=redis")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR") {
		t.Errorf("error should mention REDIS_ADDR: %q", err.Error())
	}
}

func TestValidate_RedisAddrRequiredForAnalytics(t *testing.T) {
	cfg := validConfig()
	cfg.QueueMode = "channel"
	cfg.RedisAddr = ""
	cfg.AnalyticsEnabled = true

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing REDIS_ADDR with ANALYTICS_ENABLED")
	}
	if !strings.Contains(err.Error(), "ANALYTICS_ENABLED") {
		t.Errorf("error should mention ANALYTICS_ENABLED: %q", err.Error())
	}
}

func TestValidate_InvalidDurations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"non-parseable tick interval", func(c *Config) { c.TickIntervalStr = "invalid" }, "invalid duration"},
		{"negative tick interval", func(c *Config) { c.TickIntervalStr = "-1s" }, "must be positive"},
		{"zero window lead", func(c *Config) { c.WindowLeadStr = "0s" }, "must be positive"},
		{"negative tick offset", func(c *Config) { c.TickOffsetStr = "-2m" }, "must not be negative"},
		{"bad redelivery delay", func(c *Config) { c.RedeliveryDelayStr = "soon" }, "invalid duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_ZeroTickOffsetAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.TickOffsetStr = "0s"

	if err := Validate(cfg); err != nil {
		t.Errorf("zero TICK_OFFSET should be valid, got: %v", err)
	}
}

func TestValidate_WindowSpanMustEqualTickInterval(t *testing.T) {
	cfg := validConfig()
	cfg.WindowSpanStr = "5m"
	cfg.WindowSpan = 5 * time.Minute

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error when WINDOW_SPAN != TICK_INTERVAL")
	}
	if !strings.Contains(err.Error(), "WINDOW_SPAN") {
		t.Errorf("error should mention WINDOW_SPAN: %q", err.Error())
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""
	cfg.TickIntervalStr = "invalid"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}

	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(errs) != 2 {
		t.Errorf("expected 2 validation errors, got %d: %v", len(errs), errs)
	}
}

func TestValidationError_Format(t *testing.T) {
	err := ValidationError{Field: "DATABASE_URL", Message: "required"}
	got := err.Error()
	want := "DATABASE_URL: required"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationErrors_Format(t *testing.T) {
	// Single error
	single := ValidationErrors{{Field: "F1", Message: "M1"}}
	if single.Error() != "F1: M1" {
		t.Errorf("single error = %q, want 'F1: M1'", single.Error())
	}

	// Multiple errors
	multi := ValidationErrors{
		{Field: "F1", Message: "M1"},
		{Field: "F2", Message: "M2"},
	}
	got := multi.Error()
	if !strings.Contains(got, "2 validation errors") {
		t.Errorf("multi error should contain '2 validation errors': %q", got)
	}
	if !strings.Contains(got, "F1: M1") || !strings.Contains(got, "F2: M2") {
		t.Errorf("multi error should contain both errors: %q", got)
	}

	// Empty
	empty := ValidationErrors{}
	if empty.Error() != "" {
		t.Errorf("empty errors should return empty string, got %q", empty.Error())
	}
}
