package services

import "context"

type contextKey string

const (
	instrumentKey contextKey = "instrument_id"
	runKey        contextKey = "run_id"
	sampleKey     contextKey = "sample_id"
	stageKey      contextKey = "stage"
	requestIDKey  contextKey = "request_id"
)

// WithRun annotates context with the instrument and run identifiers.
func WithRun(ctx context.Context, instrumentID, runID string) context.Context {
	if instrumentID != "" {
		ctx = context.WithValue(ctx, instrumentKey, instrumentID)
	}
	if runID != "" {
		ctx = context.WithValue(ctx, runKey, runID)
	}
	return ctx
}

// InstrumentFromContext extracts the instrument identifier if present.
func InstrumentFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(instrumentKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// RunFromContext extracts the run identifier if present.
func RunFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSample annotates context with the sample identifier.
func WithSample(ctx context.Context, sampleID string) context.Context {
	if sampleID == "" {
		return ctx
	}
	return context.WithValue(ctx, sampleKey, sampleID)
}

// SampleFromContext extracts the sample identifier if present.
func SampleFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(sampleKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
