// Package stream defines the client-facing events emitted while a run
// executes: round boundaries, captured thoughts, tool activity, and the final
// answer. Events are delivered through a Sink; transports (SSE, WebSocket,
// Pulse) implement Sink and are responsible for marshaling events into their
// wire format.
//
// All event types embed Base and are immutable after construction, so they are
// safe to send concurrently.
package stream

import (
	"context"
	"time"
)

type (
	// Sink delivers streaming updates to clients over a transport.
	// Implementations must be safe for concurrent use.
	Sink interface {
		// Send publishes an event. Implementations marshal the event into
		// their wire format and handle delivery semantics (buffering,
		// backpressure). Send returns an error when delivery fails; the
		// runtime logs and continues, streaming is best effort.
		Send(ctx context.Context, event Event) error

		// Close releases resources owned by the sink. Close is idempotent;
		// after it returns, subsequent Send calls must return errors. The
		// context bounds graceful shutdown.
		Close(ctx context.Context) error
	}

	// Event is a streaming update produced during a run. Sinks use the
	// interface for generic marshaling; consumers type-assert to concrete
	// types when they need structured field access.
	Event interface {
		// Type returns the event type constant, used for filtering and
		// routing without type assertions.
		Type() EventType

		// RunID returns the identifier of the run that produced the event.
		// All events of one run share the same value.
		RunID() string

		// Payload returns the event-specific data in JSON-serializable form.
		Payload() any
	}

	// Base provides the Event implementation shared by all concrete event
	// types. Construct it with NewBase.
	Base struct {
		t EventType
		r string
		p any
	}

	// RunStarted announces a new run: the question being answered and the
	// tools available to answer it.
	RunStarted struct {
		Base
		Data RunStartedPayload
	}

	// RunStartedPayload carries the run parameters.
	RunStartedPayload struct {
		// Query is the user question driving the run.
		Query string `json:"query"`
		// Tools lists the names of the registered tools, in registration
		// order.
		Tools []string `json:"tools,omitempty"`
		// MaxRounds is the round limit configured for the run.
		MaxRounds int `json:"max_rounds"`
	}

	// RoundStarted marks the beginning of a reasoning round.
	RoundStarted struct {
		Base
		Data RoundStartedPayload
	}

	// RoundStartedPayload identifies the round.
	RoundStartedPayload struct {
		// Round is the 1-based round index.
		Round int `json:"round"`
	}

	// ThoughtCaptured streams the reasoning text produced in a round. Clients
	// display it as the run's visible thinking.
	ThoughtCaptured struct {
		Base
		Data ThoughtPayload
	}

	// ThoughtPayload carries one round's thought.
	ThoughtPayload struct {
		Round int    `json:"round"`
		Text  string `json:"text"`
	}

	// ActionSelected streams the tool choice made in a round, before the tool
	// runs. UIs use it to show pending tool calls.
	ActionSelected struct {
		Base
		Data ActionPayload
	}

	// ActionPayload identifies the selected tool and its argument.
	ActionPayload struct {
		Round int    `json:"round"`
		Tool  string `json:"tool"`
		Arg   string `json:"arg"`
	}

	// ObservationRecorded streams a tool result (or failure text) after the
	// invocation completes. Every ActionSelected is followed by exactly one
	// ObservationRecorded.
	ObservationRecorded struct {
		Base
		Data ObservationPayload
	}

	// ObservationPayload carries the observation fed back into the run.
	ObservationPayload struct {
		Round int    `json:"round"`
		Tool  string `json:"tool"`
		Text  string `json:"text"`
		// Failed reports whether the observation describes a tool failure
		// rather than a successful result.
		Failed bool `json:"failed,omitempty"`
	}

	// GenerationStarted marks the start of a single model generation request.
	GenerationStarted struct {
		Base
		Data GenerationStartedPayload
	}

	// GenerationStartedPayload describes the generation about to run.
	GenerationStartedPayload struct {
		// Constrained reports whether the generation is driven token by token
		// under a grammar.
		Constrained bool `json:"constrained"`
		// MaxTokens is the token budget, zero when unbounded.
		MaxTokens int `json:"max_tokens,omitempty"`
	}

	// GenerationCompleted marks the end of a model generation request.
	GenerationCompleted struct {
		Base
		Data GenerationCompletedPayload
	}

	// GenerationCompletedPayload summarizes a finished generation.
	GenerationCompletedPayload struct {
		// Reason is the stop reason reported by the engine.
		Reason string `json:"reason"`
		// Tokens is the number of tokens committed, zero for unconstrained
		// completions.
		Tokens int `json:"tokens,omitempty"`
		// Duration is the wall-clock generation time.
		Duration time.Duration `json:"duration"`
	}

	// RunCompleted carries the final answer (or the forced answer produced at
	// the round limit) and closes the run's event stream.
	RunCompleted struct {
		Base
		Data RunCompletedPayload
	}

	// RunCompletedPayload carries the run outcome.
	RunCompletedPayload struct {
		Answer string `json:"answer"`
		// Reason is "final_answer" when the run concluded on its own and
		// "round_limit" when the limit forced the answer.
		Reason string `json:"reason"`
		// Rounds is the number of rounds executed.
		Rounds int `json:"rounds"`
	}
)

// EventType enumerates stream payload flavors.
type EventType string

const (
	// EventRunStarted announces a new run.
	EventRunStarted EventType = "run_started"

	// EventRoundStarted marks the beginning of a reasoning round.
	EventRoundStarted EventType = "round_started"

	// EventThought streams the reasoning text captured in a round.
	EventThought EventType = "thought"

	// EventAction streams the tool selection made in a round.
	EventAction EventType = "action"

	// EventObservation streams the tool result fed back into the transcript.
	EventObservation EventType = "observation"

	// EventGenerationStarted marks the start of a model generation request.
	EventGenerationStarted EventType = "generation_started"

	// EventGenerationCompleted marks the end of a model generation request.
	EventGenerationCompleted EventType = "generation_completed"

	// EventRunCompleted carries the final answer and closes the run stream.
	EventRunCompleted EventType = "run_completed"
)

// NewBase constructs a Base event with the given type, run ID, and payload.
func NewBase(t EventType, runID string, payload any) Base {
	return Base{t: t, r: runID, p: payload}
}

// NewRunStarted builds a RunStarted event.
func NewRunStarted(runID string, data RunStartedPayload) *RunStarted {
	return &RunStarted{Base: NewBase(EventRunStarted, runID, data), Data: data}
}

// NewRoundStarted builds a RoundStarted event.
func NewRoundStarted(runID string, round int) *RoundStarted {
	data := RoundStartedPayload{Round: round}
	return &RoundStarted{Base: NewBase(EventRoundStarted, runID, data), Data: data}
}

// NewThoughtCaptured builds a ThoughtCaptured event.
func NewThoughtCaptured(runID string, round int, text string) *ThoughtCaptured {
	data := ThoughtPayload{Round: round, Text: text}
	return &ThoughtCaptured{Base: NewBase(EventThought, runID, data), Data: data}
}

// NewActionSelected builds an ActionSelected event.
func NewActionSelected(runID string, round int, tool, arg string) *ActionSelected {
	data := ActionPayload{Round: round, Tool: tool, Arg: arg}
	return &ActionSelected{Base: NewBase(EventAction, runID, data), Data: data}
}

// NewObservationRecorded builds an ObservationRecorded event.
func NewObservationRecorded(runID string, round int, tool, text string, failed bool) *ObservationRecorded {
	data := ObservationPayload{Round: round, Tool: tool, Text: text, Failed: failed}
	return &ObservationRecorded{Base: NewBase(EventObservation, runID, data), Data: data}
}

// NewGenerationStarted builds a GenerationStarted event.
func NewGenerationStarted(runID string, data GenerationStartedPayload) *GenerationStarted {
	return &GenerationStarted{Base: NewBase(EventGenerationStarted, runID, data), Data: data}
}

// NewGenerationCompleted builds a GenerationCompleted event.
func NewGenerationCompleted(runID string, data GenerationCompletedPayload) *GenerationCompleted {
	return &GenerationCompleted{Base: NewBase(EventGenerationCompleted, runID, data), Data: data}
}

// NewRunCompleted builds a RunCompleted event.
func NewRunCompleted(runID string, data RunCompletedPayload) *RunCompleted {
	return &RunCompleted{Base: NewBase(EventRunCompleted, runID, data), Data: data}
}

// Type implements Event.Type.
func (e Base) Type() EventType { return e.t }

// RunID implements Event.RunID.
func (e Base) RunID() string { return e.r }

// Payload implements Event.Payload.
func (e Base) Payload() any { return e.p }
