package logging

import (
	"context"
	"log/slog"

	"speecheval/internal/services"
)

// Structured field keys shared by every component.
const (
	FieldComponent      = "component"
	FieldJobID          = "job_id"
	FieldStage          = "stage"
	FieldSegmentKey     = "segment_key"
	FieldModel          = "model"
	FieldCredentialID   = "credential_id"
	FieldCorrelationID  = "correlation_id"
	FieldEventType      = "event_type"
	FieldErrorHint      = "error_hint"
	FieldErrorKind      = "error_kind"
	FieldErrorOperation = "error_operation"
	// FieldImpact says what a warning means for the job, e.g. "score from single model".
	FieldImpact = "impact"
	// FieldAlert marks lines an operator should look at.
	FieldAlert = "alert"
)

var contextFields = []struct {
	key    string
	lookup func(context.Context) (string, bool)
}{
	{FieldJobID, services.JobIDFromContext},
	{FieldStage, services.StageFromContext},
	{FieldCorrelationID, services.RequestIDFromContext},
}

// ContextFields returns the job, stage, and correlation attrs carried by ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, field := range contextFields {
		if value, ok := field.lookup(ctx); ok {
			attrs = append(attrs, slog.String(field.key, value))
		}
	}
	return attrs
}

// WithContext returns logger with the ids from ctx attached.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	attrs := ContextFields(ctx)
	if len(attrs) == 0 {
		return logger
	}
	return slog.New(logger.Handler().WithAttrs(attrs))
}
