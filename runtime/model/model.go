// Package model defines the capability surface the generation engine
// consumes from a language-model backend. Two modes are required: token
// scoring (propose the next token subject to an admissibility predicate,
// used for constrained segments) and plain-text completion (free segments
// bounded by stop substrings and a token budget). Inference internals such
// as KV caches, sampling strategy, and transport are provider concerns;
// adapters under features/model translate this surface to vendor SDKs.
package model

import (
	"context"
	"errors"
)

type (
	// Token is one unit of backend output. ID is the provider vocabulary
	// index when known (negative otherwise); Text is the decoded piece.
	Token struct {
		// ID is the provider token id, negative if the provider does not
		// expose one.
		ID int
		// Text is the decoded text of the token. Never empty.
		Text string
	}

	// CompletionRequest describes one plain-text completion call.
	CompletionRequest struct {
		// Prefix is the full prompt: every previously committed segment in
		// order, exactly as the caller's transcript reads.
		Prefix string
		// Stop lists substrings that terminate generation. The earliest
		// occurrence wins; ties go to the first listed.
		Stop []string
		// MaxTokens bounds the number of tokens generated. Zero means the
		// provider default.
		MaxTokens int
		// Temperature adjusts sampling. Zero means the provider default.
		Temperature float64
	}

	// Completion is the result of a plain-text completion call.
	Completion struct {
		// Text is the generated text with any stop substring removed.
		Text string
		// StopText is the stop substring that fired, empty when generation
		// ended for another reason.
		StopText string
		// Reason reports why generation stopped.
		Reason StopReason
	}

	// TokenScorer proposes tokens one at a time for constrained decoding.
	TokenScorer interface {
		// ScoreNext returns the backend's next token for the given prefix,
		// restricted to tokens the admit predicate allows. It returns
		// ErrNoAdmissibleToken when every candidate the backend would emit
		// is rejected, and ErrEndOfStream when the backend has nothing
		// further to propose for this prefix.
		ScoreNext(ctx context.Context, prefix string, admit func(Token) bool) (Token, error)
	}

	// Completer serves plain-text completions.
	Completer interface {
		// Complete generates free text for the request. Implementations
		// honor the stop list and token budget and report the reason the
		// generation ended.
		Complete(ctx context.Context, req CompletionRequest) (Completion, error)
	}

	// Backend is the full capability the engine drives. Providers that can
	// only complete free text implement Completer and return
	// ErrConstraintsUnsupported from ScoreNext.
	Backend interface {
		TokenScorer
		Completer
	}
)

// StopReason reports why a generation stopped.
type StopReason string

const (
	// StopReasonStop means a stop substring (or stop pattern) fired.
	StopReasonStop StopReason = "stop"
	// StopReasonGrammar means the active constraint reached a complete
	// match with no further continuation possible.
	StopReasonGrammar StopReason = "grammar"
	// StopReasonMaxTokens means the token budget was exhausted.
	StopReasonMaxTokens StopReason = "max_tokens"
	// StopReasonEnd means the backend finished on its own (end of stream).
	StopReasonEnd StopReason = "end"
)

var (
	// ErrNoAdmissibleToken reports that every candidate token was rejected
	// by the admissibility predicate. The caller decides whether that is a
	// completed constraint or a dead end.
	ErrNoAdmissibleToken = errors.New("model: no admissible token")

	// ErrEndOfStream reports that the backend has nothing further to
	// propose for the given prefix.
	ErrEndOfStream = errors.New("model: end of stream")

	// ErrConstraintsUnsupported reports that the backend only implements
	// plain-text completion.
	ErrConstraintsUnsupported = errors.New("model: token scoring not supported")

	// ErrRateLimited reports that the provider is throttling requests.
	// Vendor adapters wrap throttled responses with this sentinel so callers
	// can detect the condition with errors.Is and back off.
	ErrRateLimited = errors.New("model: rate limited")
)
