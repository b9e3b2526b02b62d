package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/steer/runtime/grammar"
	"goa.design/steer/runtime/model"
	"goa.design/steer/runtime/model/scripted"
	"goa.design/steer/runtime/stream"
)

type recordingSink struct {
	events []stream.Event
}

func (s *recordingSink) Send(_ context.Context, ev stream.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Close(context.Context) error { return nil }

type recordingMetrics struct {
	counters map[string]float64
	timers   map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: make(map[string]float64), timers: make(map[string]int)}
}

func (m *recordingMetrics) IncCounter(name string, value float64, _ ...string) {
	m.counters[name] += value
}

func (m *recordingMetrics) RecordTimer(name string, _ time.Duration, _ ...string) {
	m.timers[name]++
}

func newEngine(t *testing.T, backend model.Backend) *Engine {
	t.Helper()
	eng, err := New(Options{Backend: backend})
	require.NoError(t, err)
	return eng
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestLiteralConstraintEmitsExactText(t *testing.T) {
	eng := newEngine(t, scripted.Script("PFXhello world"))

	res, err := eng.Generate(context.Background(), Request{
		Prefix:  "PFX",
		Grammar: grammar.Lit("hello"),
		Capture: "greeting",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, model.StopReasonGrammar, res.Reason)
	assert.Equal(t, 5, res.Tokens)
	assert.Equal(t, "greeting", res.Capture)
}

func TestChoiceCommitsDeclaredMember(t *testing.T) {
	choice, err := grammar.ChoiceOf("age", "log")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		eng := newEngine(t, scripted.Script("PFXage(Leonardo DiCaprio)"))
		res, err := eng.Generate(context.Background(), Request{Prefix: "PFX", Grammar: choice})
		require.NoError(t, err)
		assert.Equal(t, "age", res.Text, "run %d", i)
		assert.Equal(t, model.StopReasonGrammar, res.Reason)
	}
}

func TestChoiceStopsCleanlyWhenScriptEndsOnAccept(t *testing.T) {
	choice, err := grammar.ChoiceOf("run", "runner")
	require.NoError(t, err)

	eng := newEngine(t, scripted.Script("PFXrun"))
	res, err := eng.Generate(context.Background(), Request{Prefix: "PFX", Grammar: choice})
	require.NoError(t, err)
	assert.Equal(t, "run", res.Text)
	assert.Equal(t, model.StopReasonGrammar, res.Reason)
}

func TestChoiceFollowsLongerAlternativeWhileTokensFlow(t *testing.T) {
	choice, err := grammar.ChoiceOf("run", "runner")
	require.NoError(t, err)

	eng := newEngine(t, scripted.Script("PFXrunner stride"))
	res, err := eng.Generate(context.Background(), Request{Prefix: "PFX", Grammar: choice})
	require.NoError(t, err)
	assert.Equal(t, "runner", res.Text)
}

func TestDigitRunStopsWhenNonDigitRejected(t *testing.T) {
	eng := newEngine(t, scripted.Script("PFX49 years old"))

	res, err := eng.Generate(context.Background(), Request{
		Prefix:  "PFX",
		Grammar: grammar.MustPattern("[0-9]+"),
		Capture: "observation_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "49", res.Text)
	assert.Equal(t, model.StopReasonGrammar, res.Reason)
	assert.Equal(t, 2, res.Tokens)
}

func TestDeadEndWithoutMatchIsFatal(t *testing.T) {
	eng := newEngine(t, scripted.Script("PFXyes!"))

	_, err := eng.Generate(context.Background(), Request{
		Prefix:  "PFX",
		Grammar: grammar.Lit("yesterday"),
		Capture: "act_1",
	})
	require.Error(t, err)

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "act_1", genErr.Capture)
	assert.Equal(t, `"yesterday"`, genErr.Grammar)
	assert.Equal(t, "yes", genErr.Consumed)
	assert.ErrorIs(t, err, model.ErrNoAdmissibleToken)
	assert.Contains(t, err.Error(), "act_1")
	assert.Contains(t, err.Error(), `"yes"`)
}

func TestDeadEndAtFirstTokenIsFatal(t *testing.T) {
	eng := newEngine(t, scripted.Script("PFXno"))

	_, err := eng.Generate(context.Background(), Request{Prefix: "PFX", Grammar: grammar.Lit("yes")})
	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.Empty(t, genErr.Consumed)
}

func TestStopStringBeatsGrammarCompletion(t *testing.T) {
	eng := newEngine(t, scripted.Script("PFXab\ncd"))

	res, err := eng.Generate(context.Background(), Request{
		Prefix:  "PFX",
		Grammar: grammar.MustPattern(`[a-z\n]+`),
		Stop:    []string{"\n"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ab", res.Text)
	assert.Equal(t, "\n", res.StopText)
	assert.Equal(t, model.StopReasonStop, res.Reason)
}

func TestIncludeStopKeepsMatchedText(t *testing.T) {
	eng := newEngine(t, scripted.Script("PFXab\ncd"))

	res, err := eng.Generate(context.Background(), Request{
		Prefix:      "PFX",
		Grammar:     grammar.MustPattern(`[a-z\n]+`),
		Stop:        []string{"\n"},
		IncludeStop: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "ab\n", res.Text)
	assert.Equal(t, "\n", res.StopText)
}

func TestMaxTokensBoundsConstrainedLoop(t *testing.T) {
	eng := newEngine(t, scripted.Script("PFX123456"))

	res, err := eng.Generate(context.Background(), Request{
		Prefix:    "PFX",
		Grammar:   grammar.MustPattern("[0-9]+"),
		MaxTokens: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "123", res.Text)
	assert.Equal(t, model.StopReasonMaxTokens, res.Reason)
	assert.Equal(t, 3, res.Tokens)
}

func TestUnconstrainedCompletionPassesThrough(t *testing.T) {
	eng := newEngine(t, scripted.Script("PFXI should find the age.\nrest"))

	res, err := eng.Generate(context.Background(), Request{
		Prefix: "PFX",
		Stop:   []string{"\n"},
	})
	require.NoError(t, err)
	assert.Equal(t, "I should find the age.", res.Text)
	assert.Equal(t, "\n", res.StopText)
	assert.Equal(t, model.StopReasonStop, res.Reason)
	assert.Zero(t, res.Tokens)
}

func TestStopPatternCutsCompletion(t *testing.T) {
	eng := newEngine(t, scripted.Script("PFXvalue=42;more"))

	res, err := eng.Generate(context.Background(), Request{
		Prefix:      "PFX",
		StopPattern: `[;!]`,
	})
	require.NoError(t, err)
	assert.Equal(t, "value=42", res.Text)
	assert.Equal(t, ";", res.StopText)
	assert.Equal(t, model.StopReasonStop, res.Reason)
}

func TestInvalidStopPatternFailsFast(t *testing.T) {
	eng := newEngine(t, scripted.Script("PFXx"))

	_, err := eng.Generate(context.Background(), Request{Prefix: "PFX", StopPattern: "["})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop pattern")
}

func TestGrammarConstructionErrorPropagates(t *testing.T) {
	eng := newEngine(t, scripted.Script("PFXx"))

	_, err := eng.Generate(context.Background(), Request{Prefix: "PFX", Grammar: grammar.Seq(nil)})
	require.Error(t, err)

	var gramErr *grammar.Error
	assert.ErrorAs(t, err, &gramErr)
}

func TestCanceledContextAbortsLoop(t *testing.T) {
	eng := newEngine(t, scripted.Script("PFX123"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.Generate(ctx, Request{Prefix: "PFX", Grammar: grammar.MustPattern("[0-9]+")})
	require.ErrorIs(t, err, context.Canceled)
}

func TestEmitsLifecycleEventsAndMetrics(t *testing.T) {
	sink := &recordingSink{}
	metrics := newRecordingMetrics()
	eng, err := New(Options{Backend: scripted.Script("PFX42"), Sink: sink, Metrics: metrics})
	require.NoError(t, err)

	res, err := eng.Generate(context.Background(), Request{
		Prefix:  "PFX",
		Grammar: grammar.MustPattern("[0-9]+"),
		RunID:   "run-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", res.Text)

	require.Len(t, sink.events, 2)
	assert.Equal(t, stream.EventGenerationStarted, sink.events[0].Type())
	assert.Equal(t, stream.EventGenerationCompleted, sink.events[1].Type())
	assert.Equal(t, "run-1", sink.events[0].RunID())

	done, ok := sink.events[1].(*stream.GenerationCompleted)
	require.True(t, ok)
	assert.Equal(t, 2, done.Data.Tokens)

	assert.Equal(t, float64(2), metrics.counters["steer.engine.tokens"])
	assert.Equal(t, float64(1), metrics.counters["steer.engine.generations"])
	assert.Equal(t, 1, metrics.timers["steer.engine.generation.duration"])
}

func TestNoEventsWithoutRunID(t *testing.T) {
	sink := &recordingSink{}
	eng, err := New(Options{Backend: scripted.Script("PFX42"), Sink: sink})
	require.NoError(t, err)

	_, err = eng.Generate(context.Background(), Request{Prefix: "PFX", Grammar: grammar.MustPattern("[0-9]+")})
	require.NoError(t, err)
	assert.Empty(t, sink.events)
}

func TestFatalErrorKeepsWrappedCause(t *testing.T) {
	eng := newEngine(t, scripted.Script("PFX"))

	_, err := eng.Generate(context.Background(), Request{Prefix: "PFX", Grammar: grammar.Lit("abc")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrEndOfStream) || errors.Is(err, model.ErrNoAdmissibleToken))
}
