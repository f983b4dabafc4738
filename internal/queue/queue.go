// Package queue defines the delay-queue contract used to land an occurrence
// message at (or near) its exact due instant.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Message is one delivery. Body is the wire-format schedule snapshot taken
// at dispatch time. Attempt counts deliveries of this message, starting
// at 1.
type Message struct {
	Body    json.RawMessage `json:"body"`
	Attempt int             `json:"attempt"`
}

// Queue is a message transport with per-message deferred delivery.
// Delivery is at-least-once; consumers must tolerate duplicates.
type Queue interface {
	// Send enqueues body for delivery after delay. A non-positive delay
	// makes the message deliverable immediately.
	Send(ctx context.Context, body []byte, delay time.Duration) error

	// Receive returns the next due message, or nil when nothing is due.
	Receive(ctx context.Context) (*Message, error)

	// Redeliver re-queues a message whose processing failed. A message past
	// the implementation's attempt cap is dropped; the drop is final.
	Redeliver(ctx context.Context, msg *Message) error
}
