package logging

import (
	"context"
	"log/slog"

	"autoqc/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldInstrumentID identifies the acquiring instrument.
	FieldInstrumentID = "instrument_id"
	// FieldRunID identifies the run within an instrument.
	FieldRunID = "run_id"
	// FieldSampleID identifies the sample being processed.
	FieldSampleID = "sample_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldSessionID identifies one monitor process lifetime.
	FieldSessionID = "session_id"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldVerdict carries the Pass/Warning/Fail outcome.
	FieldVerdict = "verdict"
	// FieldPolarity carries the ionisation mode of a sample.
	FieldPolarity = "polarity"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := services.InstrumentFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldInstrumentID, id))
	}
	if id, ok := services.RunFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if id, ok := services.SampleFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSampleID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
