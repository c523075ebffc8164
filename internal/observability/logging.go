package observability

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/sentinel/internal/config"
	"github.com/pitabwire/sentinel/model"
)

// NewLogger builds the console's JSON logger on stdout. An unparseable level
// falls back to info.
//
// Levels as used across the console:
//   - error: 5xx responses, session store failures, panics
//   - warn:  4xx responses, stream drops, open breakers, failed decisions
//   - info:  sign-in, committed decisions, stream (re)connects
//   - debug: cache invalidation, stream frames, countdown ticks
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.OutputPaths = []string{"stdout"}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	return zc.Build()
}

// RequestLogger returns base annotated with the request's operator, session
// and correlation id. The trace id comes from the operator context or, when
// that has none, from the active span.
func RequestLogger(ctx context.Context, base *zap.Logger) *zap.Logger {
	var fields []zap.Field
	traceID := TraceIDFromContext(ctx)
	if oc := model.OperatorContextFrom(ctx); oc != nil {
		fields = append(fields,
			zap.String("operator", oc.Username),
			zap.String("session_id", oc.SessionID),
			zap.String("correlation_id", oc.CorrelationID),
		)
		if oc.TraceID != "" {
			traceID = oc.TraceID
		}
	}
	if traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
