package middleware

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"goa.design/pulse/rmap"

	"goa.design/steer/runtime/model"
)

// fakeClusterMap stands in for rmap.Map. The limiter's backoff and probe
// writers run on their own goroutines, so access is guarded.
type fakeClusterMap struct {
	mu     sync.Mutex
	values map[string]string
	ch     chan rmap.EventKind
}

func newFakeClusterMap() *fakeClusterMap {
	return &fakeClusterMap{
		values: make(map[string]string),
		ch:     make(chan rmap.EventKind, 1),
	}
}

func (m *fakeClusterMap) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *fakeClusterMap) SetIfNotExists(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	select {
	case m.ch <- rmap.EventChange:
	default:
	}
	return true, nil
}

func (m *fakeClusterMap) TestAndSet(_ context.Context, key, test, value string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.values[key]
	if !ok || cur != test {
		return cur, nil
	}
	m.values[key] = value
	select {
	case m.ch <- rmap.EventChange:
	default:
	}
	return cur, nil
}

func (m *fakeClusterMap) Subscribe() <-chan rmap.EventKind {
	return m.ch
}

func TestClusterLimiter_BackoffUpdatesSharedMap(t *testing.T) {
	ctx := context.Background()
	m := newFakeClusterMap()
	const key = "model"

	// Seed map with initial value.
	m.values[key] = strconv.Itoa(80000)

	lim := newClusterAdaptiveRateLimiter(ctx, m, key, 80000, 80000)

	backend := &fakeBackend{
		completeErr: model.ErrRateLimited,
	}
	wrapped := lim.Middleware()(backend)

	req := model.CompletionRequest{
		Prefix:    "hello",
		MaxTokens: 10,
	}

	_, _ = wrapped.Complete(context.Background(), req)

	// The shared budget is lowered by a background callback; poll for it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		v, ok := m.Get(key)
		if !ok {
			t.Fatal("expected key to exist in cluster map")
		}
		cur, err := strconv.Atoi(v)
		if err != nil {
			t.Fatalf("invalid value in cluster map: %v", err)
		}
		if cur < 80000 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected shared TPM to decrease, still %d", cur)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
