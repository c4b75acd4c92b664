// Package pubsub fans events out from single producers to any number of
// subscribers. Two streams run over it: log entries, which the log package
// publishes as it writes them, and claude output events, which task-run
// publishes so the session recorder can fold them into session state.
package pubsub

import (
	"context"
	"time"
)

// EventType identifies which stream an event belongs to.
type EventType string

const (
	// LogEntry is a formatted log line from the log package.
	LogEntry EventType = "log_entry"
	// ProcessOutput is a parsed claude output event from a running process.
	ProcessOutput EventType = "process_output"
)

// Event wraps a payload with its stream type and publish time.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber hands out subscription channels scoped to a context.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher accepts events for fan-out.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
