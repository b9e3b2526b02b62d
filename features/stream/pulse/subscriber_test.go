package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	"goa.design/steer/runtime/stream"
)

func TestSubscribeEmitsEvents(t *testing.T) {
	eventCh := make(chan *streaming.Event, 1)
	snk := &fakeSink{events: eventCh}
	str := &fakeStream{sink: snk}
	cli := &fakeClient{stream: str}

	sub, err := NewSubscriber(SubscriberOptions{Client: cli, Buffer: 2})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "run/run-123")
	require.NoError(t, err)
	defer cancel()

	require.Equal(t, "run/run-123", cli.lastStream)
	require.Equal(t, "steer_subscriber", str.lastSink)

	payload, _ := json.Marshal(map[string]any{
		"type":      "thought",
		"run_id":    "run-123",
		"timestamp": time.Now(),
		"payload":   map[string]any{"round": 1, "text": "I need to search for the film first."},
	})
	eventCh <- &streaming.Event{ID: "1-0", Payload: payload}
	close(eventCh)

	e := <-events
	require.Equal(t, stream.EventThought, e.Type())
	require.Equal(t, "run-123", e.RunID())
	var body stream.ThoughtPayload
	require.NoError(t, json.Unmarshal(e.Payload().(json.RawMessage), &body))
	require.Equal(t, 1, body.Round)
	require.Equal(t, "I need to search for the film first.", body.Text)

	// Draining to the close synchronizes with the consume goroutine, so the
	// ack bookkeeping is safe to inspect.
	_, ok := <-events
	require.False(t, ok)
	require.Equal(t, []string{"1-0"}, snk.acked)
	require.Empty(t, errs)
}

func TestSubscribeDecoderError(t *testing.T) {
	eventCh := make(chan *streaming.Event, 1)
	snk := &fakeSink{events: eventCh}
	cli := &fakeClient{stream: &fakeStream{sink: snk}}

	sub, err := NewSubscriber(SubscriberOptions{
		Client: cli,
		Decoder: func([]byte) (stream.Event, error) {
			return nil, errors.New("decode error")
		},
	})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "run/run-1")
	require.NoError(t, err)
	defer cancel()
	eventCh <- &streaming.Event{Payload: []byte("{}")}
	close(eventCh)

	require.EqualError(t, <-errs, "pulse decode payload: decode error")
	require.Empty(t, events)
}

func TestSubscriberRequiresClient(t *testing.T) {
	_, err := NewSubscriber(SubscriberOptions{})
	require.EqualError(t, err, "pulse client is required")
}
