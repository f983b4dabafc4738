package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Poller metrics
	TickStarted()
	TickCompleted(duration time.Duration, dispatched int, err error)
	DispatchEnqueued(delay time.Duration)
	DispatchFailed()

	// Consumer metrics
	MessageProcessed(duration time.Duration, err error)
	HistoryWritten()

	// Reconciler metrics
	OverdueSchedulesUpdate(count int)
	ScheduleRepaired()
}
