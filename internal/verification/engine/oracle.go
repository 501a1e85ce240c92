package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type callStatus int

const (
	callOK callStatus = iota
	callCancelled
	callTimedOut
	callFailed
)

// invoke runs an oracle call with the per-call timeout and the attempt bound.
// The call is cancellable through flow.interrupt for as long as it runs.
//
// A timeout ends the loop immediately and is reported as callTimedOut, which
// the caller treats as a retry outcome. Other errors are retried until the
// attempts run out or the error reports itself as permanent.
func invoke[T any](ctx context.Context, e *Engine, f *flow, operation string, call func(context.Context) (T, error)) (T, callStatus, error) {
	stageCtx, release := f.cancellable(ctx)
	defer release()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= e.cfg.OracleAttempts; attempt++ {
		spanCtx, span := e.tracer.Start(stageCtx, "oracle."+operation, trace.WithAttributes(
			attribute.String("session_id", f.sessionID.String()),
			attribute.Int("attempt", attempt),
		))
		callCtx, callCancel := context.WithTimeout(spanCtx, e.cfg.OracleTimeout)
		start := time.Now()
		out, err := call(callCtx)
		deadline := callCtx.Err()
		callCancel()
		elapsed := time.Since(start)

		switch {
		case stageCtx.Err() != nil:
			span.SetStatus(codes.Error, "cancelled")
			span.End()
			e.metrics.ObserveOracleLatency(operation, "cancelled", elapsed)
			return zero, callCancelled, stageCtx.Err()
		case err == nil:
			span.End()
			e.metrics.ObserveOracleLatency(operation, "ok", elapsed)
			return out, callOK, nil
		case errors.Is(deadline, context.DeadlineExceeded):
			span.SetStatus(codes.Error, "timeout")
			span.End()
			e.metrics.ObserveOracleLatency(operation, "timeout", elapsed)
			e.logger.WarnContext(ctx, "oracle call timed out",
				"session_id", f.sessionID.String(),
				"operation", operation,
				"timeout", e.cfg.OracleTimeout,
			)
			return zero, callTimedOut, err
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		e.metrics.ObserveOracleLatency(operation, "error", elapsed)
		e.logger.WarnContext(ctx, "oracle call failed",
			"session_id", f.sessionID.String(),
			"operation", operation,
			"attempt", attempt,
			"error", err,
		)
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return zero, callFailed, lastErr
}

// retryable is false only for errors that declare themselves permanent.
func retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
