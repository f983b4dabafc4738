package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/buithaibinh/cron-solution-stack/internal/analytics"
	"github.com/buithaibinh/cron-solution-stack/internal/api"
	"github.com/buithaibinh/cron-solution-stack/internal/config"
	"github.com/buithaibinh/cron-solution-stack/internal/consumer"
	"github.com/buithaibinh/cron-solution-stack/internal/cron"
	"github.com/buithaibinh/cron-solution-stack/internal/leaderelection"
	"github.com/buithaibinh/cron-solution-stack/internal/metrics"
	"github.com/buithaibinh/cron-solution-stack/internal/poller"
	"github.com/buithaibinh/cron-solution-stack/internal/queue"
	"github.com/buithaibinh/cron-solution-stack/internal/reconciler"
	"github.com/buithaibinh/cron-solution-stack/internal/store/postgres"
	"github.com/buithaibinh/cron-solution-stack/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`cronstack - cron schedule registration and dispatch service

Usage:
  cronstack <command>

Commands:
  serve      Start the API, poller, and occurrence consumer
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for the queue and analytics
  HTTP_ADDR                 HTTP server address (default: ":8080")

  QUEUE_MODE                "redis" or "channel" (default: "redis")
  QUEUE_NAME                Delayed queue name (default: "occurrences")
  QUEUE_BUFFER_SIZE         Channel queue buffer size (default: "1024")

  TICK_INTERVAL             Poll cadence (default: "10m")
  TICK_OFFSET               Offset of the tick within the hour (default: "8m")
  WINDOW_LEAD               Lookahead window start offset (default: "2m")
  WINDOW_SPAN               Lookahead window length; must equal TICK_INTERVAL (default: "10m")

  CONSUMER_POLL_INTERVAL    Queue poll interval when idle (default: "1s")
  REDELIVERY_DELAY          Delay before a failed message retries (default: "30s")
  REDELIVERY_MAX_ATTEMPTS   Attempts before a message is dropped (default: "5")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_ADDR              Metrics server address (default: ":9091")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  ANALYTICS_ENABLED         Record occurrence counters in Redis (default: "false")

  RECONCILE_ENABLED         Enable overdue-schedule repair (default: "false")
  RECONCILE_INTERVAL        How often to scan for overdue schedules (default: "5m")
  RECONCILE_THRESHOLD       Age before a schedule counts as stuck (default: "15m")
  RECONCILE_BATCH_SIZE      Max repairs per cycle (default: "100")

  LEADER_ELECTION_ENABLED   Gate poller and reconciler behind an advisory lock (default: "false")
  LEADER_LOCK_KEY           Advisory lock key shared by all instances (default: "728379")
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("cronstack: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)
	evaluator := cron.NewEvaluator()

	// Shared Redis client for the queue and analytics
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		defer redisClient.Close()
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("cronstack: metrics enabled (addr=%s, path=%s)", cfg.MetricsAddr, cfg.MetricsPath)

		// Start metrics HTTP server on separate address
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("cronstack: metrics server listening on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("cronstack: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("cronstack: METRICS_ENABLED not set; metrics disabled")
	}

	// Occurrence queue: durable Redis delayed queue, or in-memory channel
	// for single-process deployments.
	var occurrences queue.Queue
	var channelQueue *channel.DelayQueue

	switch cfg.QueueMode {
	case "channel":
		channelQueue = channel.NewDelayQueue(cfg.QueueBufferSize).
			WithRedelivery(cfg.RedeliveryDelay, cfg.RedeliveryMaxAttempts)
		occurrences = channelQueue
		log.Printf("cronstack: channel queue (buffer=%d)", cfg.QueueBufferSize)
	default:
		occurrences = queue.NewRedisQueue(redisClient, cfg.QueueName).
			WithRedelivery(cfg.RedeliveryDelay, cfg.RedeliveryMaxAttempts)
		log.Printf("cronstack: redis queue %q (redis=%s)", cfg.QueueName, cfg.RedisAddr)
	}

	pol := poller.New(
		poller.Config{
			TickInterval: cfg.TickInterval,
			TickOffset:   cfg.TickOffset,
			WindowLead:   cfg.WindowLead,
			WindowSpan:   cfg.WindowSpan,
		},
		store,
		occurrences,
	)
	if metricsSink != nil {
		pol = pol.WithMetrics(metricsSink)
	}

	cons := consumer.New(
		consumer.Config{PollInterval: cfg.ConsumerPollInterval},
		store,
		occurrences,
		evaluator,
	)
	if metricsSink != nil {
		cons = cons.WithMetrics(metricsSink)
	}

	if cfg.AnalyticsEnabled && redisClient != nil {
		cons = cons.WithAnalytics(analytics.NewRedisSink(redisClient))
		log.Printf("cronstack: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("cronstack: analytics disabled")
	}

	var recon *reconciler.Reconciler
	if cfg.ReconcileEnabled {
		recon = reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
			evaluator,
		)
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}
		log.Printf("cronstack: reconciler enabled (interval=%s, threshold=%s, batch=%d)",
			cfg.ReconcileInterval, cfg.ReconcileThreshold, cfg.ReconcileBatchSize)
	} else {
		log.Println("cronstack: RECONCILE_ENABLED not set; reconciler disabled")
	}

	// Create API handler with the same store instance
	apiHandler := api.NewHandler(store, evaluator).
		WithHealthChecker(db).
		WithDueWindow(cfg.WindowLead, cfg.WindowSpan)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("cronstack: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("cronstack: http server error: %v", err)
		}
	}()

	// The consumer always runs; the poller and reconciler are leader duties
	// when election is enabled.
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	var consumerWg sync.WaitGroup

	consumerWg.Add(1)
	go func() {
		defer consumerWg.Done()
		cons.Run(consumerCtx)
	}()

	duties := &leaderDuties{poller: pol, reconciler: recon}

	var cancelElector context.CancelFunc
	var electorWg sync.WaitGroup

	if cfg.LeaderElectionEnabled {
		elector := leaderelection.New(
			db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			duties.start,
			duties.stop,
		)
		electorCtx, cancel := context.WithCancel(context.Background())
		cancelElector = cancel
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
		log.Printf("cronstack: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
	} else {
		dutiesCtx, cancelDuties := context.WithCancel(context.Background())
		duties.start(dutiesCtx)
		cancelElector = cancelDuties
		log.Println("cronstack: leader election disabled; running poller directly")
	}

	log.Printf("cronstack: started (tick=%s offset=%s window=[now+%s, now+%s), http=%s)",
		cfg.TickInterval, cfg.TickOffset, cfg.WindowLead, cfg.WindowLead+cfg.WindowSpan, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("cronstack: received signal %v, shutting down", received)

	// Phase 1: Stop dispatching (no new occurrence messages)
	log.Println("cronstack: stopping poller and reconciler...")
	cancelElector()
	if cfg.LeaderElectionEnabled {
		electorWg.Wait()
	}
	duties.stop()
	log.Println("cronstack: poller and reconciler stopped")

	// Phase 2: Stop the consumer (finishes the in-flight message first)
	log.Println("cronstack: stopping consumer...")
	cancelConsumer()
	consumerWg.Wait()
	log.Println("cronstack: consumer stopped")

	if channelQueue != nil {
		channelQueue.Close()
	}

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("cronstack: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("cronstack: http server shutdown error: %v", err)
	}
	log.Println("cronstack: http server stopped")

	// Phase 4: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("cronstack: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("cronstack: metrics server shutdown error: %v", err)
		}
		log.Println("cronstack: metrics server stopped")
	}

	log.Println("cronstack: stopped")
	return exitSuccess
}

// leaderDuties starts and stops the components that must run on exactly one
// instance. start and stop match the leaderelection callback contract: start
// returns quickly, stop blocks until the duties have exited and is
// idempotent.
type leaderDuties struct {
	poller     *poller.Poller
	reconciler *reconciler.Reconciler

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (d *leaderDuties) start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dutyCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.poller.Run(dutyCtx)
	}()

	if d.reconciler != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.reconciler.Run(dutyCtx)
		}()
	}
}

func (d *leaderDuties) stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("cronstack version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
