package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	// Poller metrics
	s.TickStarted()
	s.TickCompleted(100*time.Millisecond, 5, nil)
	s.TickCompleted(100*time.Millisecond, 0, errors.New("tick failed"))
	s.DispatchEnqueued(2 * time.Minute)
	s.DispatchFailed()

	// Consumer metrics
	s.MessageProcessed(10*time.Millisecond, nil)
	s.MessageProcessed(10*time.Millisecond, errors.New("write rejected"))
	s.HistoryWritten()

	// Reconciler metrics
	s.OverdueSchedulesUpdate(3)
	s.ScheduleRepaired()
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
