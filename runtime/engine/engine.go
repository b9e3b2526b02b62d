// Package engine drives a model backend one token at a time under a grammar
// constraint, or through plain completion when no grammar applies. The engine
// owns stop detection and dead-end reporting but never mutates run state: it
// returns a Result that the caller commits.
//
// Stop conditions are checked in a fixed priority order after each committed
// token: explicit stop text first, then grammar completion (the constraint
// accepted and admits nothing further), then the token budget.
package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"goa.design/steer/runtime/grammar"
	"goa.design/steer/runtime/model"
	"goa.design/steer/runtime/stream"
	"goa.design/steer/runtime/telemetry"
)

type (
	// Options configures an Engine.
	Options struct {
		// Backend scores tokens and serves plain completions. Required.
		Backend model.Backend
		// Logger, Metrics and Tracer default to no-ops when nil.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
		// Sink receives generation lifecycle events when set. Delivery is
		// best effort; send failures are logged and ignored.
		Sink stream.Sink
	}

	// Engine executes generation requests against a backend. An Engine is
	// safe to share across runs; each request carries its own state.
	Engine struct {
		backend model.Backend
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		sink    stream.Sink
	}

	// Request describes one generation step.
	Request struct {
		// Prefix is the full transcript the generation continues from.
		Prefix string
		// Grammar constrains the output when set. Nil requests run through
		// the backend's plain completion mode instead of the token loop.
		Grammar grammar.Node
		// Stop lists substrings that terminate generation. The earliest
		// occurrence wins; ties go to the first listed.
		Stop []string
		// StopPattern is an optional regular expression that terminates
		// generation where it first matches. Zero-width matches are ignored.
		StopPattern string
		// MaxTokens bounds the number of committed tokens, zero means no
		// bound. For plain completions the backend interprets the budget.
		MaxTokens int
		// Temperature is forwarded to plain completions.
		Temperature float64
		// Capture names the result for error reporting and commit by the
		// caller. The engine itself never records captures.
		Capture string
		// IncludeStop keeps the matched stop text in Result.Text.
		IncludeStop bool
		// RunID tags emitted stream events. Empty disables event emission.
		RunID string
	}

	// Result is the outcome of a generation step.
	Result struct {
		// Text is the generated content, stop text excluded unless the
		// request set IncludeStop.
		Text string
		// StopText is the matched stop string or pattern text, empty when
		// generation ended for another reason.
		StopText string
		// Reason records why generation stopped.
		Reason model.StopReason
		// Tokens is the number of tokens committed by the constrained loop,
		// zero for plain completions.
		Tokens int
		// Capture echoes the request's capture name.
		Capture string
	}

	// Error is a fatal generation failure: the constraint and the committed
	// text together admit no valid next token. It carries enough context to
	// diagnose the prompt or grammar bug that caused it.
	Error struct {
		// Capture is the capture name of the failed request, may be empty.
		Capture string
		// Grammar describes the active constraint.
		Grammar string
		// Consumed is the text committed before the failure.
		Consumed string
		// Err is the underlying cause.
		Err error
	}
)

// New constructs an Engine. The backend is required; telemetry defaults to
// no-ops.
func New(opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, errors.New("engine: nil backend")
	}
	e := &Engine{
		backend: opts.Backend,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		sink:    opts.Sink,
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewNoopMetrics()
	}
	if e.tracer == nil {
		e.tracer = telemetry.NewNoopTracer()
	}
	return e, nil
}

// Generate runs one generation step. Grammar construction problems and
// unsatisfiable constraints are fatal; the caller receives them with the
// run state it has committed so far intact.
func (e *Engine) Generate(ctx context.Context, req Request) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.generate")
	defer span.End()

	var stopRE *regexp.Regexp
	if req.StopPattern != "" {
		re, err := regexp.Compile(req.StopPattern)
		if err != nil {
			return Result{}, fmt.Errorf("engine: stop pattern %q: %w", req.StopPattern, err)
		}
		stopRE = re
	}

	constrained := req.Grammar != nil
	e.logger.Debug(ctx, "generation start",
		"capture", req.Capture,
		"constrained", constrained,
		"max_tokens", req.MaxTokens,
	)
	e.emit(ctx, stream.NewGenerationStarted(req.RunID, stream.GenerationStartedPayload{
		Constrained: constrained,
		MaxTokens:   req.MaxTokens,
	}))

	start := time.Now()
	var (
		res Result
		err error
	)
	if constrained {
		res, err = e.generateConstrained(ctx, req, stopRE)
	} else {
		res, err = e.complete(ctx, req, stopRE)
	}
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		e.logger.Error(ctx, "generation failed", "capture", req.Capture, "err", err)
		return Result{}, err
	}
	res.Capture = req.Capture

	e.metrics.IncCounter(telemetry.MetricGenerations, 1, "reason", string(res.Reason))
	e.metrics.RecordTimer(telemetry.MetricGenerationDuration, elapsed, "constrained", strconv.FormatBool(constrained))
	if res.Tokens > 0 {
		e.metrics.IncCounter(telemetry.MetricTokens, float64(res.Tokens))
	}
	e.logger.Debug(ctx, "generation done",
		"capture", req.Capture,
		"reason", string(res.Reason),
		"tokens", res.Tokens,
	)
	e.emit(ctx, stream.NewGenerationCompleted(req.RunID, stream.GenerationCompletedPayload{
		Reason:   string(res.Reason),
		Tokens:   res.Tokens,
		Duration: elapsed,
	}))
	return res, nil
}

// generateConstrained runs the token-by-token loop under a compiled grammar.
func (e *Engine) generateConstrained(ctx context.Context, req Request, stopRE *regexp.Regexp) (Result, error) {
	machine, err := grammar.Compile(req.Grammar)
	if err != nil {
		return Result{}, err
	}

	var (
		text   strings.Builder
		tokens int
	)
	admit := func(tok model.Token) bool {
		if tok.Text == "" {
			return false
		}
		return machine.Peek(tok.Text) != grammar.Reject
	}
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		tok, err := e.backend.ScoreNext(ctx, req.Prefix+text.String(), admit)
		if err != nil {
			switch {
			case errors.Is(err, model.ErrNoAdmissibleToken), errors.Is(err, model.ErrEndOfStream):
				if machine.Accepted() {
					return Result{Text: text.String(), Reason: model.StopReasonGrammar, Tokens: tokens}, nil
				}
				return Result{}, &Error{
					Capture:  req.Capture,
					Grammar:  req.Grammar.String(),
					Consumed: text.String(),
					Err:      err,
				}
			default:
				return Result{}, fmt.Errorf("engine: score next token: %w", err)
			}
		}
		if machine.Feed(tok.Text) == grammar.Reject {
			return Result{}, &Error{
				Capture:  req.Capture,
				Grammar:  req.Grammar.String(),
				Consumed: text.String(),
				Err:      fmt.Errorf("backend committed inadmissible token %q", tok.Text),
			}
		}
		text.WriteString(tok.Text)
		tokens++

		if idx, match, ok := findStop(text.String(), req.Stop, stopRE); ok {
			return finishStopAt(text.String(), idx, match, tokens, req.IncludeStop), nil
		}
		if machine.Verdict() == grammar.Accept && !machine.CanContinue() {
			return Result{Text: text.String(), Reason: model.StopReasonGrammar, Tokens: tokens}, nil
		}
		if req.MaxTokens > 0 && tokens >= req.MaxTokens {
			return Result{Text: text.String(), Reason: model.StopReasonMaxTokens, Tokens: tokens}, nil
		}
	}
}

// complete serves unconstrained requests through the backend's completion
// mode, then applies the engine-side stop pattern to the returned text.
func (e *Engine) complete(ctx context.Context, req Request, stopRE *regexp.Regexp) (Result, error) {
	comp, err := e.backend.Complete(ctx, model.CompletionRequest{
		Prefix:      req.Prefix,
		Stop:        req.Stop,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("engine: complete: %w", err)
	}
	res := Result{Text: comp.Text, StopText: comp.StopText, Reason: comp.Reason}
	if stopRE != nil {
		if loc := stopRE.FindStringIndex(res.Text); loc != nil && loc[1] > loc[0] {
			res.StopText = res.Text[loc[0]:loc[1]]
			res.Text = res.Text[:loc[0]]
			res.Reason = model.StopReasonStop
		}
	}
	if req.IncludeStop && res.StopText != "" {
		res.Text += res.StopText
	}
	return res, nil
}

// emit sends a stream event when a sink is configured and the request is
// tagged with a run.
func (e *Engine) emit(ctx context.Context, ev stream.Event) {
	if e.sink == nil || ev.RunID() == "" {
		return
	}
	if err := e.sink.Send(ctx, ev); err != nil {
		e.logger.Warn(ctx, "stream send failed", "event", string(ev.Type()), "err", err)
	}
}

// findStop locates the earliest stop occurrence in text. Stop strings are
// scanned in list order so the first listed wins ties; the pattern only wins
// when it matches strictly earlier, and zero-width matches are ignored.
func findStop(text string, stops []string, re *regexp.Regexp) (int, string, bool) {
	idx, match := -1, ""
	for _, s := range stops {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && (idx < 0 || i < idx) {
			idx, match = i, s
		}
	}
	if re != nil {
		if loc := re.FindStringIndex(text); loc != nil && loc[1] > loc[0] && (idx < 0 || loc[0] < idx) {
			idx, match = loc[0], text[loc[0]:loc[1]]
		}
	}
	return idx, match, idx >= 0
}

// finishStopAt truncates text at the stop match and builds the result.
func finishStopAt(text string, idx int, match string, tokens int, includeStop bool) Result {
	cut := text[:idx]
	if includeStop {
		cut = text[:idx+len(match)]
	}
	return Result{Text: cut, StopText: match, Reason: model.StopReasonStop, Tokens: tokens}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "engine: generation failed"
	if e.Capture != "" {
		msg += " for " + strconv.Quote(e.Capture)
	}
	if e.Grammar != "" {
		msg += " under " + e.Grammar
	}
	if e.Consumed != "" {
		msg += " after " + strconv.Quote(e.Consumed)
	}
	return msg + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }
