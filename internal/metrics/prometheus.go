package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget. Registration errors are
// logged but never propagated.
type PrometheusSink struct {
	// Poller metrics
	ticksTotal          prometheus.Counter
	tickErrorsTotal     prometheus.Counter
	dispatchedTotal     prometheus.Counter
	dispatchFailedTotal prometheus.Counter
	tickDuration        prometheus.Histogram
	dispatchDelay       prometheus.Histogram

	// Consumer metrics
	messagesTotal       prometheus.Counter
	messageErrorsTotal  prometheus.Counter
	messageDuration     prometheus.Histogram
	historyWrittenTotal prometheus.Counter

	// Reconciler metrics
	overdueSchedules prometheus.Gauge
	repairedTotal    prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register are logged and left unexported; the sink
// stays functional either way.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initPollerMetrics(reg)
	s.initConsumerMetrics(reg)
	s.initReconcilerMetrics(reg)
	return s
}

func (s *PrometheusSink) initPollerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstack_poller_ticks_total",
		Help: "Total number of poll ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstack_poller_tick_errors_total",
		Help: "Total number of poll ticks that failed (at least one dispatch failed).",
	})
	s.dispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstack_poller_dispatched_total",
		Help: "Total number of occurrence messages enqueued.",
	})
	s.dispatchFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstack_poller_dispatch_failures_total",
		Help: "Total number of per-schedule dispatch failures.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cronstack_poller_tick_duration_seconds",
		Help:    "Duration of each poll tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.dispatchDelay = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cronstack_poller_dispatch_delay_seconds",
		Help:    "Requested delivery delay of enqueued occurrence messages in seconds.",
		Buckets: []float64{0, 60, 120, 240, 360, 480, 600, 720},
	})

	s.register(reg, s.ticksTotal, "cronstack_poller_ticks_total")
	s.register(reg, s.tickErrorsTotal, "cronstack_poller_tick_errors_total")
	s.register(reg, s.dispatchedTotal, "cronstack_poller_dispatched_total")
	s.register(reg, s.dispatchFailedTotal, "cronstack_poller_dispatch_failures_total")
	s.register(reg, s.tickDuration, "cronstack_poller_tick_duration_seconds")
	s.register(reg, s.dispatchDelay, "cronstack_poller_dispatch_delay_seconds")
}

func (s *PrometheusSink) initConsumerMetrics(reg prometheus.Registerer) {
	s.messagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstack_consumer_messages_total",
		Help: "Total number of occurrence messages processed.",
	})
	s.messageErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstack_consumer_message_errors_total",
		Help: "Total number of occurrence messages that failed processing.",
	})
	s.messageDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cronstack_consumer_message_duration_seconds",
		Help:    "Processing duration per occurrence message in seconds.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
	s.historyWrittenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstack_consumer_history_written_total",
		Help: "Total number of history records appended.",
	})

	s.register(reg, s.messagesTotal, "cronstack_consumer_messages_total")
	s.register(reg, s.messageErrorsTotal, "cronstack_consumer_message_errors_total")
	s.register(reg, s.messageDuration, "cronstack_consumer_message_duration_seconds")
	s.register(reg, s.historyWrittenTotal, "cronstack_consumer_history_written_total")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.overdueSchedules = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cronstack_reconciler_overdue_schedules",
		Help: "Number of overdue schedules found in the last reconcile cycle.",
	})
	s.repairedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstack_reconciler_repaired_total",
		Help: "Total number of overdue schedules repaired.",
	})

	s.register(reg, s.overdueSchedules, "cronstack_reconciler_overdue_schedules")
	s.register(reg, s.repairedTotal, "cronstack_reconciler_repaired_total")
}

// register attempts to register a collector, logging any errors without
// propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Poller metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, dispatched int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.dispatchedTotal.Add(float64(dispatched))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) DispatchEnqueued(delay time.Duration) {
	s.dispatchDelay.Observe(delay.Seconds())
}

func (s *PrometheusSink) DispatchFailed() {
	s.dispatchFailedTotal.Inc()
}

// Consumer metrics implementation

func (s *PrometheusSink) MessageProcessed(duration time.Duration, err error) {
	s.messagesTotal.Inc()
	s.messageDuration.Observe(duration.Seconds())
	if err != nil {
		s.messageErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) HistoryWritten() {
	s.historyWrittenTotal.Inc()
}

// Reconciler metrics implementation

func (s *PrometheusSink) OverdueSchedulesUpdate(count int) {
	s.overdueSchedules.Set(float64(count))
}

func (s *PrometheusSink) ScheduleRepaired() {
	s.repairedTotal.Inc()
}
