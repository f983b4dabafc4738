package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                            {}
func (n *NoopSink) TickCompleted(duration time.Duration, d int, err error)  {}
func (n *NoopSink) DispatchEnqueued(delay time.Duration)                    {}
func (n *NoopSink) DispatchFailed()                                         {}
func (n *NoopSink) MessageProcessed(duration time.Duration, err error)      {}
func (n *NoopSink) HistoryWritten()                                         {}
func (n *NoopSink) OverdueSchedulesUpdate(count int)                        {}
func (n *NoopSink) ScheduleRepaired()                                       {}
