package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldItemID is the standardized structured logging key for work item identifiers.
	FieldItemID = "item_id"
	// FieldSession is the standardized structured logging key for backlog session names.
	FieldSession = "session"
	// FieldHolder is the standardized structured logging key for lease holder identities.
	FieldHolder = "holder"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies warning lines for filtering.
	FieldEventType = "event_type"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	holderKey
)

// WithRequestID stores a request correlation identifier on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request identifier stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}

// WithHolder stores the lease holder identity for the current request.
func WithHolder(ctx context.Context, holder string) context.Context {
	return context.WithValue(ctx, holderKey, holder)
}

// HolderFromContext returns the holder stored by WithHolder.
func HolderFromContext(ctx context.Context) (string, bool) {
	holder, ok := ctx.Value(holderKey).(string)
	return holder, ok && holder != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if rid, ok := RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	if holder, ok := HolderFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldHolder, holder))
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
