package pulse

import (
	"context"
	"errors"

	clientspulse "goa.design/steer/features/stream/pulse/clients/pulse"
	"goa.design/steer/runtime/stream"
)

// RunStreams wires a caller-provided Pulse client into the run loop. It owns a
// publishing sink (passed to react.Options.Sink) and can spawn subscribers
// that reuse the same client so services do not need to manage multiple Pulse
// connections.
type RunStreams struct {
	sink   *Sink
	client clientspulse.Client
}

// RunStreamsOptions configures the helper returned by NewRunStreams.
type RunStreamsOptions struct {
	// Client is the Pulse client used for both publishing and subscribing. It is
	// required and typically built via features/stream/pulse/clients/pulse.
	Client clientspulse.Client
	// Sink holds optional overrides for the publishing sink (stream ID derivation,
	// marshaling, publish hooks). Leave zero-valued for defaults.
	Sink Options
}

// NewRunStreams constructs helpers for publishing run events to Pulse and
// subscribing to the resulting streams. Callers pass the returned sink to
// react.Options.Sink and keep the helper around to create subscribers (e.g.,
// SSE fan-out) later on.
func NewRunStreams(opts RunStreamsOptions) (*RunStreams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &RunStreams{sink: sink, client: opts.Client}, nil
}

// Sink exposes the publishing sink so callers can pass it to react.Options.
func (r *RunStreams) Sink() stream.Sink {
	return r.sink
}

// NewSubscriber constructs a Pulse-backed subscriber that reuses the helper's
// client. This keeps stream publishing and consumption on the same Redis
// connection pool for efficiency.
func (r *RunStreams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = r.client
	return NewSubscriber(opts)
}

// Close shuts down the publishing sink (and therefore the underlying Pulse
// client). Call this during service shutdown after all subscribers have been
// canceled.
func (r *RunStreams) Close(ctx context.Context) error {
	return r.sink.Close(ctx)
}
