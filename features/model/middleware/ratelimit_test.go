package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"goa.design/steer/runtime/model"
)

type fakeBackend struct {
	completeResp model.Completion
	completeErr  error
	scoreErr     error

	completeCalls int
	scoreCalls    int
}

func (f *fakeBackend) Complete(_ context.Context, _ model.CompletionRequest) (model.Completion, error) {
	f.completeCalls++
	return f.completeResp, f.completeErr
}

func (f *fakeBackend) ScoreNext(_ context.Context, _ string, _ func(model.Token) bool) (model.Token, error) {
	f.scoreCalls++
	if f.scoreErr != nil {
		return model.Token{}, f.scoreErr
	}
	return model.Token{ID: -1, Text: "x"}, nil
}

func TestAdaptiveRateLimiter_BackoffOnRateLimited(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 60000)

	initialTPM := limiter.currentTPM

	backend := &fakeBackend{
		completeErr: model.ErrRateLimited,
	}
	wrapped := limiter.Middleware()(backend)

	req := model.CompletionRequest{
		Prefix:    "hello",
		MaxTokens: 10,
	}

	_, err := wrapped.Complete(context.Background(), req)
	if err == nil || !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	if limiter.currentTPM >= initialTPM {
		t.Fatalf("expected TPM to decrease, got %f (initial %f)",
			limiter.currentTPM, initialTPM)
	}
}

func TestAdaptiveRateLimiter_ProbeOnSuccess(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 120000)

	limiter.mu.Lock()
	initialTPM := limiter.currentTPM
	limiter.recoveryRate = 1000
	limiter.mu.Unlock()

	backend := &fakeBackend{}
	wrapped := limiter.Middleware()(backend)

	req := model.CompletionRequest{
		Prefix:    "hello",
		MaxTokens: 10,
	}

	_, err := wrapped.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	if limiter.currentTPM <= initialTPM {
		t.Fatalf("expected TPM to increase, got %f (initial %f)",
			limiter.currentTPM, initialTPM)
	}
}

func TestAdaptiveRateLimiter_RespectsContextWhenQueued(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60, 60)

	limiter.mu.Lock()
	limiter.currentTPM = 60
	// Configure an impossible limiter so any non-zero token request fails
	// immediately. This exercises the error path without relying on timing.
	limiter.limiter = rate.NewLimiter(0, 0)
	limiter.mu.Unlock()

	backend := &fakeBackend{}
	wrapped := limiter.Middleware()(backend)

	req := model.CompletionRequest{
		Prefix:    strings.Repeat("a", 600),
		MaxTokens: 10,
	}

	_, err := wrapped.Complete(context.Background(), req)
	if err == nil {
		t.Fatal("expected limiter error")
	}
	if backend.completeCalls != 0 {
		t.Fatalf("expected underlying backend not to be called, got %d calls",
			backend.completeCalls)
	}
}

func TestAdaptiveRateLimiter_ScoreNextNeverProbes(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 120000)

	initialTPM := limiter.currentTPM

	backend := &fakeBackend{}
	wrapped := limiter.Middleware()(backend)

	for i := 0; i < 10; i++ {
		if _, err := wrapped.ScoreNext(context.Background(), "prefix", func(model.Token) bool { return true }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	if limiter.currentTPM != initialTPM {
		t.Fatalf("expected TPM unchanged after scoring, got %f (initial %f)",
			limiter.currentTPM, initialTPM)
	}
}

func TestAdaptiveRateLimiter_ScoreNextBacksOffOnRateLimited(t *testing.T) {
	limiter := newAdaptiveRateLimiter(60000, 60000)

	initialTPM := limiter.currentTPM

	backend := &fakeBackend{
		scoreErr: fmt.Errorf("provider: %w", model.ErrRateLimited),
	}
	wrapped := limiter.Middleware()(backend)

	_, err := wrapped.ScoreNext(context.Background(), "prefix", func(model.Token) bool { return true })
	if err == nil || !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	if limiter.currentTPM >= initialTPM {
		t.Fatalf("expected TPM to decrease, got %f (initial %f)",
			limiter.currentTPM, initialTPM)
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	small := estimateTokens(model.CompletionRequest{Prefix: "short"})
	big := estimateTokens(model.CompletionRequest{Prefix: "this is a much longer transcript prefix"})

	if small <= 0 {
		t.Fatalf("expected positive token estimate for small request, got %d",
			small)
	}
	if big <= small {
		t.Fatalf("expected larger estimate for larger request, small=%d big=%d",
			small, big)
	}
}
