// Package realtime delivers server-pushed row-change notifications to the
// cache layer, converging cached views onto changes the user did not make
// themselves (another device, another user, a backend job).
package realtime

import (
	"context"
	"errors"
)

// EventType is the kind of row change a push describes.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is one pushed row change. Row carries the new row for inserts and
// updates; OldRow carries the previous row for updates and deletes. Row
// payloads are raw backend rows; field names are normalized at application
// time, not here.
type Event struct {
	Type   EventType      `json:"type" msgpack:"type"`
	Table  string         `json:"table" msgpack:"table"`
	Row    map[string]any `json:"record,omitempty" msgpack:"record,omitempty"`
	OldRow map[string]any `json:"old_record,omitempty" msgpack:"old_record,omitempty"`
}

// Handler consumes pushed events.
type Handler func(ctx context.Context, ev Event)

// Subscription is one active (table, user) subscription.
type Subscription interface {
	// Close stops the subscription; the handler is never called afterward.
	Close() error
}

// ErrStreamClosed is returned when subscribing on a closed stream.
var ErrStreamClosed = errors.New("realtime: stream is closed")

// Stream is the transport for change notifications. Subjects are scoped per
// (table, userID) pair so a client only receives rows it is allowed to see.
type Stream interface {
	// Publish sends an event to the (table, userID) scope. The client side
	// only subscribes; Publish exists for the backend bridge and for tests.
	Publish(ctx context.Context, userID string, ev Event) error
	// Subscribe delivers events for (table, userID) to h until the
	// subscription is closed or ctx is canceled.
	Subscribe(ctx context.Context, table, userID string, h Handler) (Subscription, error)
	// Close tears down the stream and all its subscriptions.
	Close() error
}

// Subject is the wire subject for a (table, userID) scope.
func Subject(table, userID string) string {
	return "changes." + table + "." + userID
}
