package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	clientsmongo "goa.design/steer/features/trace/mongo/clients/mongo"
	"goa.design/steer/runtime/stream"
	"goa.design/steer/runtime/trace"
)

func TestNewStoreRequiresClient(t *testing.T) {
	_, err := NewStore(nil)
	require.EqualError(t, err, "client is required")
}

func TestNewStoreFromMongoValidatesOptions(t *testing.T) {
	_, err := NewStoreFromMongo(clientsmongo.Options{})
	require.EqualError(t, err, "mongo client is required")
}

func TestAppendDelegatesToClient(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewStore(fake)
	require.NoError(t, err)

	e := &trace.Event{
		RunID:     "run-1",
		Round:     1,
		Type:      stream.EventThought,
		Payload:   []byte(`{"round":1,"text":"ok"}`),
		Timestamp: time.Unix(1, 0).UTC(),
	}
	require.NoError(t, store.Append(context.Background(), e))
	require.Equal(t, []*trace.Event{e}, fake.appended)
}

func TestListDelegatesToClient(t *testing.T) {
	want := trace.Page{
		Events:     []*trace.Event{{ID: "1", RunID: "run-1"}},
		NextCursor: "1",
	}
	fake := &fakeClient{page: want}
	store, err := NewStore(fake)
	require.NoError(t, err)

	page, err := store.List(context.Background(), "run-1", "cur", 5)
	require.NoError(t, err)
	require.Equal(t, want, page)
	require.Equal(t, "run-1", fake.listRunID)
	require.Equal(t, "cur", fake.listCursor)
	require.Equal(t, 5, fake.listLimit)
}

type fakeClient struct {
	appended   []*trace.Event
	page       trace.Page
	listRunID  string
	listCursor string
	listLimit  int
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Ping(context.Context) error { return nil }

func (f *fakeClient) Append(_ context.Context, e *trace.Event) error {
	f.appended = append(f.appended, e)
	return nil
}

func (f *fakeClient) List(_ context.Context, runID, cursor string, limit int) (trace.Page, error) {
	f.listRunID = runID
	f.listCursor = cursor
	f.listLimit = limit
	return f.page, nil
}
