package logging

import (
	"context"
	"log/slog"

	"voxguard/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldRunID is the standardized structured logging key for training run identifiers.
	FieldRunID = "run_id"
	// FieldBatchID is the standardized structured logging key for ledger batch identifiers.
	FieldBatchID = "batch_id"
	// FieldLabel is the standardized structured logging key for dataset class labels.
	FieldLabel = "label"
	// FieldPath is the standardized structured logging key for the file being processed.
	FieldPath = "path"
	// FieldEventType classifies warnings and decisions for log filtering.
	FieldEventType = "event_type"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if id, ok := services.BatchIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldBatchID, id))
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
