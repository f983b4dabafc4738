package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the cronstack application.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// QueueMode: "redis" (persistent delayed queue) or "channel" (in-memory).
	QueueMode string `json:"queue_mode"`
	QueueName string `json:"queue_name"`

	QueueBufferSize int `json:"queue_buffer_size"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	// TickOffset positions the poll within the hour; the first tick fires at
	// the next offset-aligned boundary.
	TickOffset    time.Duration `json:"-"`
	TickOffsetStr string        `json:"tick_offset"`

	WindowLead    time.Duration `json:"-"`
	WindowLeadStr string        `json:"window_lead"`

	// WindowSpan must equal TickInterval so consecutive windows tile with no
	// gap and no overlap.
	WindowSpan    time.Duration `json:"-"`
	WindowSpanStr string        `json:"window_span"`

	ConsumerPollInterval    time.Duration `json:"-"`
	ConsumerPollIntervalStr string        `json:"consumer_poll_interval"`

	RedeliveryDelay      time.Duration `json:"-"`
	RedeliveryDelayStr   string        `json:"redelivery_delay"`
	RedeliveryMaxAttempts int          `json:"redelivery_max_attempts"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr"`
	MetricsPath    string `json:"metrics_path"`

	AnalyticsEnabled bool `json:"analytics_enabled"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must exceed the full dispatch pipeline latency
	// (lookahead plus redelivery budget) or the reconciler fights the consumer.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	ReconcileBatchSize int `json:"reconcile_batch_size"`

	LeaderElectionEnabled bool `json:"leader_election_enabled"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		HTTPAddr:                os.Getenv("HTTP_ADDR"),
		QueueName:               os.Getenv("QUEUE_NAME"),
		TickIntervalStr:         os.Getenv("TICK_INTERVAL"),
		TickOffsetStr:           os.Getenv("TICK_OFFSET"),
		WindowLeadStr:           os.Getenv("WINDOW_LEAD"),
		WindowSpanStr:           os.Getenv("WINDOW_SPAN"),
		ConsumerPollIntervalStr: os.Getenv("CONSUMER_POLL_INTERVAL"),
		RedeliveryDelayStr:      os.Getenv("REDELIVERY_DELAY"),
		DBOpTimeoutStr:          os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:    os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:    os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:  os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:          os.Getenv("METRICS_ENABLED") == "true",
		MetricsAddr:             os.Getenv("METRICS_ADDR"),
		MetricsPath:             os.Getenv("METRICS_PATH"),
		AnalyticsEnabled:        os.Getenv("ANALYTICS_ENABLED") == "true",
		ReconcileEnabled:        os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:    os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr:   os.Getenv("RECONCILE_THRESHOLD"),
		LeaderElectionEnabled:   os.Getenv("LEADER_ELECTION_ENABLED") == "true",
	}

	cfg.QueueMode = os.Getenv("QUEUE_MODE")
	if cfg.QueueMode == "" {
		cfg.QueueMode = "redis"
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "occurrences"
	}

	if bufStr := os.Getenv("QUEUE_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.QueueBufferSize = n
		} else {
			log.Printf("config: invalid QUEUE_BUFFER_SIZE %q (must be a positive integer), using default 1024", bufStr)
		}
	}
	if cfg.QueueBufferSize == 0 {
		cfg.QueueBufferSize = 1024
	}

	if attemptsStr := os.Getenv("REDELIVERY_MAX_ATTEMPTS"); attemptsStr != "" {
		if n, err := parseInt(attemptsStr); err == nil && n > 0 {
			cfg.RedeliveryMaxAttempts = n
		} else {
			log.Printf("config: invalid REDELIVERY_MAX_ATTEMPTS %q (must be a positive integer), using default 5", attemptsStr)
		}
	}
	if cfg.RedeliveryMaxAttempts == 0 {
		cfg.RedeliveryMaxAttempts = 5
	}

	if batchStr := os.Getenv("RECONCILE_BATCH_SIZE"); batchStr != "" {
		if batch, err := parseInt(batchStr); err == nil && batch > 0 {
			cfg.ReconcileBatchSize = batch
		}
	}
	if cfg.ReconcileBatchSize == 0 {
		cfg.ReconcileBatchSize = 100
	}

	cfg.LeaderRetryIntervalStr = os.Getenv("LEADER_RETRY_INTERVAL")
	cfg.LeaderHeartbeatIntervalStr = os.Getenv("LEADER_HEARTBEAT_INTERVAL")

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 728379", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 728379
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "10m"
	}
	if cfg.TickOffsetStr == "" {
		cfg.TickOffsetStr = "8m"
	}
	if cfg.WindowLeadStr == "" {
		cfg.WindowLeadStr = "2m"
	}
	if cfg.WindowSpanStr == "" {
		cfg.WindowSpanStr = "10m"
	}
	if cfg.ConsumerPollIntervalStr == "" {
		cfg.ConsumerPollIntervalStr = "1s"
	}
	if cfg.RedeliveryDelayStr == "" {
		cfg.RedeliveryDelayStr = "30s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9091"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "5m"
	}
	if cfg.ReconcileThresholdStr == "" {
		cfg.ReconcileThresholdStr = "15m"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.TickOffsetStr); err == nil {
		cfg.TickOffset = d
	}
	if d, err := time.ParseDuration(cfg.WindowLeadStr); err == nil {
		cfg.WindowLead = d
	}
	if d, err := time.ParseDuration(cfg.WindowSpanStr); err == nil {
		cfg.WindowSpan = d
	}
	if d, err := time.ParseDuration(cfg.ConsumerPollIntervalStr); err == nil {
		cfg.ConsumerPollInterval = d
	}
	if d, err := time.ParseDuration(cfg.RedeliveryDelayStr); err == nil {
		cfg.RedeliveryDelay = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileThresholdStr); err == nil {
		cfg.ReconcileThreshold = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		QueueMode               string `json:"queue_mode"`
		QueueName               string `json:"queue_name"`
		QueueBufferSize         int    `json:"queue_buffer_size"`
		TickInterval            string `json:"tick_interval"`
		TickOffset              string `json:"tick_offset"`
		WindowLead              string `json:"window_lead"`
		WindowSpan              string `json:"window_span"`
		ConsumerPollInterval    string `json:"consumer_poll_interval"`
		RedeliveryDelay         string `json:"redelivery_delay"`
		RedeliveryMaxAttempts   int    `json:"redelivery_max_attempts"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsAddr             string `json:"metrics_addr"`
		MetricsPath             string `json:"metrics_path"`
		AnalyticsEnabled        bool   `json:"analytics_enabled"`
		ReconcileEnabled        bool   `json:"reconcile_enabled"`
		ReconcileInterval       string `json:"reconcile_interval"`
		ReconcileThreshold      string `json:"reconcile_threshold"`
		ReconcileBatchSize      int    `json:"reconcile_batch_size"`
		LeaderElectionEnabled   bool   `json:"leader_election_enabled"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		QueueMode:               c.QueueMode,
		QueueName:               c.QueueName,
		QueueBufferSize:         c.QueueBufferSize,
		TickInterval:            c.TickIntervalStr,
		TickOffset:              c.TickOffsetStr,
		WindowLead:              c.WindowLeadStr,
		WindowSpan:              c.WindowSpanStr,
		ConsumerPollInterval:    c.ConsumerPollIntervalStr,
		RedeliveryDelay:         c.RedeliveryDelayStr,
		RedeliveryMaxAttempts:   c.RedeliveryMaxAttempts,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsAddr:             c.MetricsAddr,
		MetricsPath:             c.MetricsPath,
		AnalyticsEnabled:        c.AnalyticsEnabled,
		ReconcileEnabled:        c.ReconcileEnabled,
		ReconcileInterval:       c.ReconcileIntervalStr,
		ReconcileThreshold:      c.ReconcileThresholdStr,
		ReconcileBatchSize:      c.ReconcileBatchSize,
		LeaderElectionEnabled:   c.LeaderElectionEnabled,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
