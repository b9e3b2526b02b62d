// Package scripted provides a deterministic in-memory backend for tests and
// demos. A Backend is constructed from one or more full target transcripts;
// it proposes whatever the first matching target says comes next, so a test
// can script an entire multi-segment run and assert the exact requests the
// engine issued. Constraints still apply: when the scripted continuation is
// inadmissible the backend reports model.ErrNoAdmissibleToken and lets the
// engine decide whether that closes the constraint or is a dead end.
package scripted

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"goa.design/steer/runtime/model"
)

type (
	// Options configures a scripted backend.
	Options struct {
		// Targets are complete transcripts in priority order. ScoreNext and
		// Complete serve from the first target that extends the requested
		// prefix.
		Targets []string
		// ChunkRunes is the number of runes served per token. Defaults to 1.
		ChunkRunes int
	}

	// Backend is a deterministic model.Backend driven by scripted targets.
	// It records every request so tests can assert exactly what the engine
	// sent; the recorder is guarded, so a Backend may be shared across
	// independent runs.
	Backend struct {
		targets []string
		chunk   int

		mu       sync.Mutex
		scored   []string
		requests []model.CompletionRequest
	}
)

// New returns a Backend for the given options.
func New(opts Options) (*Backend, error) {
	if opts.ChunkRunes < 0 {
		return nil, fmt.Errorf("scripted: chunk runes %d is negative", opts.ChunkRunes)
	}
	chunk := opts.ChunkRunes
	if chunk == 0 {
		chunk = 1
	}
	return &Backend{
		targets: append([]string(nil), opts.Targets...),
		chunk:   chunk,
	}, nil
}

// Script returns a Backend serving the given targets one rune at a time.
func Script(targets ...string) *Backend {
	b, _ := New(Options{Targets: targets})
	return b
}

// ScoreNext serves the next chunk of the first target extending prefix.
// When the active constraint rejects the full chunk, progressively shorter
// prefixes of it are offered so that token boundaries never hide a valid
// continuation. A prefix no target extends yields model.ErrEndOfStream.
func (b *Backend) ScoreNext(ctx context.Context, prefix string, admit func(model.Token) bool) (model.Token, error) {
	if err := ctx.Err(); err != nil {
		return model.Token{}, err
	}
	b.record(prefix)

	rest, ok := b.continuation(prefix)
	if !ok || rest == "" {
		return model.Token{}, model.ErrEndOfStream
	}

	runes := []rune(rest)
	max := b.chunk
	if max > len(runes) {
		max = len(runes)
	}
	for n := max; n >= 1; n-- {
		tok := model.Token{ID: -1, Text: string(runes[:n])}
		if admit == nil || admit(tok) {
			return tok, nil
		}
	}
	return model.Token{}, model.ErrNoAdmissibleToken
}

// Complete serves free text from the first target extending the request
// prefix, honoring the stop list and token budget the way a provider would.
func (b *Backend) Complete(ctx context.Context, req model.CompletionRequest) (model.Completion, error) {
	if err := ctx.Err(); err != nil {
		return model.Completion{}, err
	}
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	rest, ok := b.continuation(req.Prefix)
	if !ok {
		return model.Completion{}, fmt.Errorf("scripted: no target extends prefix ending %q: %w",
			tail(req.Prefix, 24), model.ErrEndOfStream)
	}

	// Earliest stop occurrence wins; ties go to the first listed.
	stopAt := -1
	stopText := ""
	for _, s := range req.Stop {
		if s == "" {
			continue
		}
		if i := strings.Index(rest, s); i >= 0 && (stopAt < 0 || i < stopAt) {
			stopAt = i
			stopText = s
		}
	}
	if stopAt >= 0 {
		text := rest[:stopAt]
		if req.MaxTokens > 0 {
			if cut, truncated := cutRunes(text, req.MaxTokens*b.chunk); truncated {
				return model.Completion{Text: cut, Reason: model.StopReasonMaxTokens}, nil
			}
		}
		return model.Completion{Text: text, StopText: stopText, Reason: model.StopReasonStop}, nil
	}
	if req.MaxTokens > 0 {
		if cut, truncated := cutRunes(rest, req.MaxTokens*b.chunk); truncated {
			return model.Completion{Text: cut, Reason: model.StopReasonMaxTokens}, nil
		}
	}
	return model.Completion{Text: rest, Reason: model.StopReasonEnd}, nil
}

// ScoredPrefixes returns every prefix passed to ScoreNext, in order.
func (b *Backend) ScoredPrefixes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.scored...)
}

// Requests returns every completion request received, in order.
func (b *Backend) Requests() []model.CompletionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.CompletionRequest(nil), b.requests...)
}

// continuation returns what the script says follows prefix. Targets that
// merely equal the prefix only count when no later target extends it.
func (b *Backend) continuation(prefix string) (string, bool) {
	exhausted := false
	for _, t := range b.targets {
		if !strings.HasPrefix(t, prefix) {
			continue
		}
		if len(t) > len(prefix) {
			return t[len(prefix):], true
		}
		exhausted = true
	}
	return "", exhausted
}

func (b *Backend) record(prefix string) {
	b.mu.Lock()
	b.scored = append(b.scored, prefix)
	b.mu.Unlock()
}

// cutRunes truncates s to at most n runes, reporting whether it did.
func cutRunes(s string, n int) (string, bool) {
	if n <= 0 {
		return "", s != ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}
