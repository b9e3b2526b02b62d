// Package telemetry defines the observability surface used across the
// runtime: structured logging, counters and timers, and span creation. The
// interfaces are intentionally small so tests can provide lightweight stubs;
// production wiring delegates to Clue logging and the global OpenTelemetry
// providers, and every component defaults to the no-op implementations when
// none is configured.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the runtime.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and timer helpers for runtime instrumentation.
// Tags are flat key-value string pairs (k1, v1, k2, v2, ...).
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
}

// Tracer abstracts span creation so runtime code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span is an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Instrument names recorded by the runtime. Dashboards key on these.
const (
	// MetricTokens counts tokens committed by constrained generation.
	MetricTokens = "steer.engine.tokens"
	// MetricGenerations counts generation requests by stop reason.
	MetricGenerations = "steer.engine.generations"
	// MetricGenerationDuration times individual generation requests.
	MetricGenerationDuration = "steer.engine.generation.duration"
	// MetricToolInvocations counts tool dispatches by outcome.
	MetricToolInvocations = "steer.tools.invocations"
	// MetricRounds counts completed reasoning rounds.
	MetricRounds = "steer.react.rounds"
	// MetricRunDuration times complete runs.
	MetricRunDuration = "steer.react.run.duration"
)
