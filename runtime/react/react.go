// Package react orchestrates the reasoning loop: think, pick a tool, observe
// its result, repeat until the model announces a final answer or the round
// limit forces one. The runner owns the program state for a run, commits
// every generated span under a round-indexed capture name, and streams
// lifecycle events as the run unfolds.
//
// The loop is strictly sequential. Each step's constraint and content depend
// on all previously committed text, so nothing runs concurrently within a
// run; the runner itself is safe to share across runs because every run owns
// an independent program.
package react

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"goa.design/steer/runtime/engine"
	"goa.design/steer/runtime/grammar"
	"goa.design/steer/runtime/program"
	"goa.design/steer/runtime/stream"
	"goa.design/steer/runtime/telemetry"
	"goa.design/steer/runtime/tools"
	"goa.design/steer/runtime/trace"
)

const (
	// DefaultMaxRounds bounds a run when Options.MaxRounds is zero.
	DefaultMaxRounds = 10

	// DefaultFinalPhrase is the thought text that signals the model is ready
	// to answer.
	DefaultFinalPhrase = "I now know the final answer"

	// DefaultTemplate is the prompt rendered at the start of every run. It
	// receives the tool catalogue, the tool names, the final phrase, and the
	// user query.
	DefaultTemplate = `Answer the following question. You have access to these tools:

{{range .Catalogue}}{{.Name}}: {{.Description}}
{{end}}
Use this exact format:

Question: the question to answer
Thought 1: reason about what to do next
Act 1: one of [{{join .Names ", "}}], with its argument in parentheses
Observation 1: the tool result
... Thought/Act/Observation repeat until the answer is known ...
Thought N: {{.FinalPhrase}}
Final Answer: the answer to the question

Question: {{.Query}}
`
)

// Reason records how a run concluded.
type Reason string

const (
	// ReasonFinalAnswer means the model announced the final phrase.
	ReasonFinalAnswer Reason = "final_answer"

	// ReasonRoundLimit means the configured round limit forced the answer.
	// Hitting the limit is a terminal condition, not an error.
	ReasonRoundLimit Reason = "round_limit"
)

type (
	// Options configures a Runner.
	Options struct {
		// Engine executes generation requests. Required.
		Engine *engine.Engine
		// Tools is the registry of callable tools. Required, non-empty.
		Tools *tools.Registry
		// MaxRounds bounds the number of reasoning rounds. Defaults to
		// DefaultMaxRounds.
		MaxRounds int
		// Template overrides the prompt template. It is parsed once at
		// construction; parse errors fail New.
		Template string
		// FinalPhrase overrides the thought text that ends the loop.
		FinalPhrase string
		// FreeActions selects tools from free text terminated by the opening
		// parenthesis instead of constraining generation to the registered
		// names. Names the registry does not know become no-op rounds.
		FreeActions bool
		// MaxTokens bounds each free-text generation, zero means unbounded.
		MaxTokens int
		// Temperature is forwarded to free-text generations.
		Temperature float64
		// Logger, Metrics and Tracer default to no-ops when nil.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
		// Sink receives run lifecycle events when set. Best effort.
		Sink stream.Sink
		// Trace persists run events when set. Append failures abort the run.
		Trace trace.Store
	}

	// Runner executes reasoning runs.
	Runner struct {
		engine      *engine.Engine
		tools       *tools.Registry
		maxRounds   int
		tmpl        *template.Template
		finalPhrase string
		freeActions bool
		maxTokens   int
		temperature float64
		choice      grammar.Node
		names       []string
		logger      telemetry.Logger
		metrics     telemetry.Metrics
		tracer      telemetry.Tracer
		sink        stream.Sink
		store       trace.Store
	}

	// Round is the record of one reasoning round.
	Round struct {
		// Index is the 1-based round number.
		Index int
		// Thought is the captured reasoning text.
		Thought string
		// Tool and Arg identify the action, empty when the round ended at
		// the thought.
		Tool string
		Arg  string
		// Observation is the text fed back into the transcript.
		Observation string
		// NoOp reports that the selected tool was unknown; no observation
		// was inserted and the model got to retry.
		NoOp bool
		// Failed reports that Observation carries a tool failure message.
		Failed bool
	}

	// Result is the outcome of a run.
	Result struct {
		// RunID identifies the run in events, traces and logs.
		RunID string
		// Answer is the captured final answer.
		Answer string
		// Reason records how the run concluded.
		Reason Reason
		// Rounds lists the executed rounds in order.
		Rounds []Round
		// Program holds the full transcript and its captures. On fatal
		// errors it carries everything committed before the failure.
		Program *program.Program
	}

	promptData struct {
		Query       string
		FinalPhrase string
		Catalogue   []tools.Descriptor
		Names       []string
	}
)

// New constructs a Runner. The template and the tool-name grammar are built
// here so malformed configuration fails before any run starts.
func New(opts Options) (*Runner, error) {
	if opts.Engine == nil {
		return nil, errors.New("react: nil engine")
	}
	if opts.Tools == nil || opts.Tools.Len() == 0 {
		return nil, errors.New("react: no tools registered")
	}
	if opts.MaxRounds < 0 {
		return nil, fmt.Errorf("react: max rounds %d is negative", opts.MaxRounds)
	}
	r := &Runner{
		engine:      opts.Engine,
		tools:       opts.Tools,
		maxRounds:   opts.MaxRounds,
		finalPhrase: opts.FinalPhrase,
		freeActions: opts.FreeActions,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		names:       opts.Tools.Names(),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		sink:        opts.Sink,
		store:       opts.Trace,
	}
	if r.maxRounds == 0 {
		r.maxRounds = DefaultMaxRounds
	}
	if r.finalPhrase == "" {
		r.finalPhrase = DefaultFinalPhrase
	}
	if r.logger == nil {
		r.logger = telemetry.NewNoopLogger()
	}
	if r.metrics == nil {
		r.metrics = telemetry.NewNoopMetrics()
	}
	if r.tracer == nil {
		r.tracer = telemetry.NewNoopTracer()
	}
	text := opts.Template
	if text == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("react").Funcs(template.FuncMap{"join": strings.Join}).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("react: parse template: %w", err)
	}
	r.tmpl = tmpl
	if !r.freeActions {
		choice, err := grammar.ChoiceOf(r.names...)
		if err != nil {
			return nil, fmt.Errorf("react: tool name grammar: %w", err)
		}
		r.choice = choice
	}
	return r, nil
}

// Prompt renders the initial prompt for a query. It is the exact text a run
// for that query starts from.
func (r *Runner) Prompt(query string) (string, error) {
	var buf bytes.Buffer
	data := promptData{
		Query:       query,
		FinalPhrase: r.finalPhrase,
		Catalogue:   r.tools.Catalogue(),
		Names:       r.names,
	}
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("react: render prompt: %w", err)
	}
	return buf.String(), nil
}

// Run executes the reasoning loop for a query.
//
// Recoverable conditions (unknown tools, tool domain errors) become content
// inside the run and never abort it. Fatal errors abort the run; the returned
// Result is non-nil in that case and carries the partially committed program
// for inspection.
func (r *Runner) Run(ctx context.Context, query string) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx, span := r.tracer.Start(ctx, "react.run")
	defer span.End()

	prog := program.New()
	res := &Result{RunID: runID, Program: prog}

	prompt, err := r.Prompt(query)
	if err != nil {
		return res, err
	}
	prog.AppendPrompt(prompt)

	r.logger.Info(ctx, "run start",
		"run_id", runID,
		"tools", len(r.names),
		"max_rounds", r.maxRounds,
	)
	err = r.emit(ctx, stream.NewRunStarted(runID, stream.RunStartedPayload{
		Query:     query,
		Tools:     r.names,
		MaxRounds: r.maxRounds,
	}), 0)
	if err != nil {
		return res, err
	}

	reason := ReasonRoundLimit
	for i := 1; i <= r.maxRounds; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.emit(ctx, stream.NewRoundStarted(runID, i), i); err != nil {
			return res, err
		}

		round := Round{Index: i}
		done, err := r.think(ctx, prog, &round, runID)
		if err != nil {
			res.Rounds = append(res.Rounds, round)
			span.RecordError(err)
			return res, fmt.Errorf("react: round %d: %w", i, err)
		}
		if done {
			reason = ReasonFinalAnswer
			res.Rounds = append(res.Rounds, round)
			break
		}

		if err := r.act(ctx, prog, &round, runID); err != nil {
			res.Rounds = append(res.Rounds, round)
			span.RecordError(err)
			return res, fmt.Errorf("react: round %d: %w", i, err)
		}
		if err := r.observe(ctx, prog, &round, runID); err != nil {
			res.Rounds = append(res.Rounds, round)
			span.RecordError(err)
			return res, fmt.Errorf("react: round %d: %w", i, err)
		}
		res.Rounds = append(res.Rounds, round)
	}

	prog.AppendText("Final Answer: ")
	answer, err := r.generate(ctx, prog, engine.Request{
		Stop:        []string{"\n"},
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
		Capture:     "answer",
		RunID:       runID,
	}, 0)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("react: final answer: %w", err)
	}
	res.Answer = answer
	res.Reason = reason

	err = r.emit(ctx, stream.NewRunCompleted(runID, stream.RunCompletedPayload{
		Answer: answer,
		Reason: string(reason),
		Rounds: len(res.Rounds),
	}), 0)
	if err != nil {
		return res, err
	}
	r.metrics.IncCounter(telemetry.MetricRounds, float64(len(res.Rounds)))
	r.metrics.RecordTimer(telemetry.MetricRunDuration, time.Since(start), "reason", string(reason))
	r.logger.Info(ctx, "run done",
		"run_id", runID,
		"reason", string(reason),
		"rounds", len(res.Rounds),
	)
	return res, nil
}

// think generates the round's thought and reports whether it announced the
// final answer.
func (r *Runner) think(ctx context.Context, prog *program.Program, round *Round, runID string) (bool, error) {
	prog.AppendText(fmt.Sprintf("Thought %d: ", round.Index))
	thought, err := r.generate(ctx, prog, engine.Request{
		Stop:        []string{"\n"},
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
		Capture:     fmt.Sprintf("thought_%d", round.Index),
		RunID:       runID,
	}, round.Index)
	if err != nil {
		return false, err
	}
	prog.AppendText("\n")
	round.Thought = thought
	if err := r.emit(ctx, stream.NewThoughtCaptured(runID, round.Index, thought), round.Index); err != nil {
		return false, err
	}
	return strings.Contains(thought, r.finalPhrase), nil
}

// act selects the tool and generates its argument.
func (r *Runner) act(ctx context.Context, prog *program.Program, round *Round, runID string) error {
	prog.AppendText(fmt.Sprintf("Act %d: ", round.Index))
	req := engine.Request{
		Capture: fmt.Sprintf("act_%d", round.Index),
		RunID:   runID,
	}
	if r.freeActions {
		req.Stop = []string{"("}
		req.MaxTokens = r.maxTokens
		req.Temperature = r.temperature
	} else {
		req.Grammar = r.choice
	}
	act, err := r.generate(ctx, prog, req, round.Index)
	if err != nil {
		return err
	}
	round.Tool = strings.TrimSpace(act)

	prog.AppendText("(")
	arg, err := r.generate(ctx, prog, engine.Request{
		Stop:        []string{")"},
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
		Capture:     fmt.Sprintf("arg_%d", round.Index),
		RunID:       runID,
	}, round.Index)
	if err != nil {
		return err
	}
	prog.AppendText(")\n")
	round.Arg = arg

	return r.emit(ctx, stream.NewActionSelected(runID, round.Index, round.Tool, round.Arg), round.Index)
}

// observe dispatches the round's action and feeds the result back into the
// transcript. Unknown tools turn the round into a no-op; the model sees no
// observation and may retry.
func (r *Runner) observe(ctx context.Context, prog *program.Program, round *Round, runID string) error {
	inv, err := r.tools.Dispatch(ctx, round.Tool, round.Arg)
	if errors.Is(err, tools.ErrUnknown) {
		round.NoOp = true
		r.metrics.IncCounter(telemetry.MetricToolInvocations, 1, "outcome", "unknown")
		r.logger.Warn(ctx, "unknown tool", "run_id", runID, "round", round.Index, "tool", round.Tool)
		return nil
	}
	if err != nil {
		return fmt.Errorf("dispatch %q: %w", round.Tool, err)
	}
	round.Observation = inv.Observation
	round.Failed = inv.Failed

	outcome := "ok"
	if inv.Failed {
		outcome = "failed"
	}
	r.metrics.IncCounter(telemetry.MetricToolInvocations, 1, "outcome", outcome)

	prog.AppendText(fmt.Sprintf("Observation %d: ", round.Index))
	seg := program.Segment{
		Text:  inv.Observation,
		Kind:  program.KindObservation,
		Name:  fmt.Sprintf("observation_%d", round.Index),
		Round: round.Index,
	}
	if err := prog.Append(seg); err != nil {
		return err
	}
	prog.AppendText("\n")

	return r.emit(ctx, stream.NewObservationRecorded(runID, round.Index, round.Tool, inv.Observation, inv.Failed), round.Index)
}

// generate runs one engine request against the current transcript and
// commits the result under the request's capture name.
func (r *Runner) generate(ctx context.Context, prog *program.Program, req engine.Request, round int) (string, error) {
	req.Prefix = prog.Text()
	res, err := r.engine.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	kind := program.KindGenerated
	err = prog.Append(program.Segment{Text: res.Text, Kind: kind, Name: req.Capture, Round: round})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// emit delivers an event to the sink (best effort) and appends it to the
// trace store (fatal on failure).
func (r *Runner) emit(ctx context.Context, ev stream.Event, round int) error {
	if r.sink != nil {
		if err := r.sink.Send(ctx, ev); err != nil {
			r.logger.Warn(ctx, "stream send failed", "event", string(ev.Type()), "err", err)
		}
	}
	if r.store == nil {
		return nil
	}
	e, err := trace.FromStream(ev, round, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := r.store.Append(ctx, e); err != nil {
		return fmt.Errorf("react: append trace: %w", err)
	}
	return nil
}
