package channel

import (
	"context"
	"testing"
	"time"

	"github.com/buithaibinh/cron-solution-stack/internal/queue"
)

func receiveWithin(t *testing.T, q *DelayQueue, timeout time.Duration) *queue.Message {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg, err := q.Receive(context.Background())
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if msg != nil {
			return msg
		}
		time.Sleep(2 * time.Millisecond)
	}
	return nil
}

func TestSend_ImmediateDelivery(t *testing.T) {
	q := NewDelayQueue(4)
	defer q.Close()

	if err := q.Send(context.Background(), []byte("now"), 0); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msg, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if msg == nil || string(msg.Body) != "now" {
		t.Fatalf("Receive = %v, want immediate message", msg)
	}
	if msg.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", msg.Attempt)
	}
}

func TestSend_DelayedDelivery(t *testing.T) {
	q := NewDelayQueue(4)
	defer q.Close()

	if err := q.Send(context.Background(), []byte("later"), 30*time.Millisecond); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Not due yet.
	msg, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if msg != nil {
		t.Fatal("message delivered before its delay elapsed")
	}

	msg = receiveWithin(t, q, time.Second)
	if msg == nil || string(msg.Body) != "later" {
		t.Fatalf("delayed message not delivered: %v", msg)
	}
}

func TestReceive_EmptyReturnsNil(t *testing.T) {
	q := NewDelayQueue(4)
	defer q.Close()

	msg, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if msg != nil {
		t.Errorf("Receive on empty queue = %v, want nil", msg)
	}
}

func TestRedeliver_IncrementsAttempt(t *testing.T) {
	q := NewDelayQueue(4).WithRedelivery(10*time.Millisecond, 5)
	defer q.Close()

	msg := &queue.Message{Body: []byte("retry"), Attempt: 1}
	if err := q.Redeliver(context.Background(), msg); err != nil {
		t.Fatalf("Redeliver failed: %v", err)
	}

	got := receiveWithin(t, q, time.Second)
	if got == nil {
		t.Fatal("redelivered message never arrived")
	}
	if got.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", got.Attempt)
	}
}

func TestRedeliver_DropsAtAttemptCap(t *testing.T) {
	q := NewDelayQueue(4).WithRedelivery(time.Millisecond, 3)
	defer q.Close()

	msg := &queue.Message{Body: []byte("doomed"), Attempt: 3}
	if err := q.Redeliver(context.Background(), msg); err != nil {
		t.Fatalf("Redeliver failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	got, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if got != nil {
		t.Errorf("message at attempt cap must be dropped, got %v", got)
	}
}

func TestClose_StopsPendingTimers(t *testing.T) {
	q := NewDelayQueue(4)

	if err := q.Send(context.Background(), []byte("pending"), 20*time.Millisecond); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	q.Close()

	time.Sleep(50 * time.Millisecond)
	msg, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if msg != nil {
		t.Errorf("message delivered after Close: %v", msg)
	}
}

func TestSend_AfterCloseIsNoop(t *testing.T) {
	q := NewDelayQueue(4)
	q.Close()

	if err := q.Send(context.Background(), []byte("late"), 5*time.Millisecond); err != nil {
		t.Fatalf("Send after close errored: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	msg, _ := q.Receive(context.Background())
	if msg != nil {
		t.Errorf("message delivered after Close: %v", msg)
	}
}
