// Package trace provides an append-only event log for run introspection.
//
// The trace is the durable record of a run: every lifecycle event the runtime
// streams to clients is also appended here, so completed runs can be replayed
// and audited. Runtimes append events as runs execute and callers list them
// using opaque cursors.
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"goa.design/steer/runtime/stream"
)

type (
	// Event is a single immutable run event.
	//
	// Store implementations assign the ID when persisting the event. IDs are
	// opaque, monotonically ordered within a run, and suitable for
	// cursor-based pagination.
	Event struct {
		// ID is the store-assigned opaque identifier for this event.
		ID string
		// RunID is the identifier of the run this event belongs to.
		RunID string
		// Round is the 1-based reasoning round the event belongs to, zero for
		// run-level events.
		Round int
		// Type is the stream event type recorded.
		Type stream.EventType
		// Payload is the canonical JSON-encoded payload for the event.
		Payload json.RawMessage
		// Timestamp is the event time.
		Timestamp time.Time
	}

	// Page is a forward page of run events.
	Page struct {
		// Events are ordered oldest-first.
		Events []*Event
		// NextCursor is the cursor to use to fetch the next page. It is empty
		// when there are no further events.
		NextCursor string
	}

	// Store is an append-only event store for run introspection.
	//
	// Implementations must provide stable ordering within a run. Cursor
	// values are store-owned and opaque to callers.
	Store interface {
		// Append stores the event. Implementations assign the event ID and
		// persist the payload verbatim. Failures surface to callers so runs
		// can fail fast when canonical logging is unavailable.
		Append(ctx context.Context, e *Event) error

		// List returns the next forward page of events for the given run ID.
		// Cursor is an opaque value returned by a previous List, or empty to
		// start from the beginning. Limit must be greater than zero.
		List(ctx context.Context, runID string, cursor string, limit int) (Page, error)
	}
)

// FromStream converts a stream event into a trace event with the payload
// marshaled to canonical JSON. Round is zero for run-level events.
func FromStream(ev stream.Event, round int, at time.Time) (*Event, error) {
	payload, err := json.Marshal(ev.Payload())
	if err != nil {
		return nil, fmt.Errorf("trace: marshal %s payload: %w", ev.Type(), err)
	}
	return &Event{
		RunID:     ev.RunID(),
		Round:     round,
		Type:      ev.Type(),
		Payload:   payload,
		Timestamp: at,
	}, nil
}
