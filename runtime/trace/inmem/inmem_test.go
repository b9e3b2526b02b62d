package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/steer/runtime/stream"
	"goa.design/steer/runtime/trace"
)

func TestStoreAppendAndList(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.Append(ctx, &trace.Event{
			RunID:     "run-1",
			Round:     i + 1,
			Type:      stream.EventThought,
			Payload:   []byte(`{}`),
			Timestamp: time.Unix(int64(i+1), 0).UTC(),
		})
		require.NoError(t, err)
	}

	page1, err := s.List(ctx, "run-1", "", 2)
	require.NoError(t, err)
	require.Len(t, page1.Events, 2)
	require.Equal(t, "1", page1.Events[0].ID)
	require.Equal(t, "2", page1.Events[1].ID)
	require.Equal(t, "2", page1.NextCursor)

	page2, err := s.List(ctx, "run-1", page1.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Events, 1)
	require.Equal(t, "3", page2.Events[0].ID)
	require.Equal(t, 3, page2.Events[0].Round)
	require.Empty(t, page2.NextCursor)
}

func TestStoreIsolatesRuns(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, &trace.Event{RunID: "run-a", Type: stream.EventRunStarted}))
	require.NoError(t, s.Append(ctx, &trace.Event{RunID: "run-b", Type: stream.EventRunStarted}))
	require.NoError(t, s.Append(ctx, &trace.Event{RunID: "run-a", Type: stream.EventRunCompleted}))

	page, err := s.List(ctx, "run-a", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)

	page, err = s.List(ctx, "run-b", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)

	require.Equal(t, []string{"run-a", "run-b"}, s.Runs())
}

func TestStoreListValidation(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	_, err := s.List(ctx, "", "", 10)
	require.Error(t, err)

	_, err = s.List(ctx, "run-1", "", 0)
	require.Error(t, err)

	_, err = s.List(ctx, "run-1", "not-a-number", 10)
	require.Error(t, err)

	page, err := s.List(ctx, "unknown", "", 10)
	require.NoError(t, err)
	require.Empty(t, page.Events)
}

func TestStoreAppendValidation(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.Error(t, s.Append(ctx, nil))
	require.Error(t, s.Append(ctx, &trace.Event{}))
}

func TestFromStreamMarshalsPayload(t *testing.T) {
	t.Parallel()

	ev := stream.NewThoughtCaptured("run-1", 2, "I should look up the age.")
	at := time.Unix(42, 0).UTC()

	e, err := trace.FromStream(ev, 2, at)
	require.NoError(t, err)
	require.Equal(t, "run-1", e.RunID)
	require.Equal(t, 2, e.Round)
	require.Equal(t, stream.EventThought, e.Type)
	require.Equal(t, at, e.Timestamp)
	require.JSONEq(t, `{"round":2,"text":"I should look up the age."}`, string(e.Payload))
}
