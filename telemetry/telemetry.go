// Package telemetry defines the observability facades used by the runtime:
// structured logging and tracing. Implementations delegate to
// goa.design/clue/log and OpenTelemetry; no-op implementations keep the
// runtime dependency-free for callers that do not configure observability.
package telemetry

import "context"

type (
	// Logger emits structured log messages with key-value pairs.
	Logger interface {
		// Debug emits a debug-level message.
		Debug(ctx context.Context, msg string, keyvals ...any)

		// Info emits an info-level message.
		Info(ctx context.Context, msg string, keyvals ...any)

		// Warn emits a warning-level message.
		Warn(ctx context.Context, msg string, keyvals ...any)

		// Error emits an error-level message.
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Tracer creates spans around runtime operations (steps, tool calls).
	Tracer interface {
		// StartSpan starts a span and returns the derived context. Callers
		// must call End on the returned span.
		StartSpan(ctx context.Context, name string, keyvals ...any) (context.Context, Span)
	}

	// Span is an active trace span.
	Span interface {
		// RecordError marks the span as failed with the given error.
		RecordError(err error)

		// End completes the span.
		End()
	}

	// NoopLogger discards all log messages.
	NoopLogger struct{}

	// NoopTracer produces inert spans.
	NoopTracer struct{}

	noopSpan struct{}
)

// Debug implements Logger.
func (NoopLogger) Debug(context.Context, string, ...any) {}

// Info implements Logger.
func (NoopLogger) Info(context.Context, string, ...any) {}

// Warn implements Logger.
func (NoopLogger) Warn(context.Context, string, ...any) {}

// Error implements Logger.
func (NoopLogger) Error(context.Context, string, ...any) {}

// StartSpan implements Tracer.
func (NoopTracer) StartSpan(ctx context.Context, _ string, _ ...any) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (noopSpan) RecordError(error) {}
func (noopSpan) End()              {}
