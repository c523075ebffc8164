package model

import (
	"context"
	"errors"
)

// OperatorContext carries the authenticated operator identity and tracing
// information for the lifetime of a console request. It is immutable after
// construction and safe for concurrent reads.
type OperatorContext struct {
	Username      string
	SessionID     string
	CorrelationID string
	TraceID       string
}

// Validate checks that the mandatory fields are present.
func (oc *OperatorContext) Validate() error {
	if oc.Username == "" {
		return errors.New("Username is required")
	}
	return nil
}

type contextKey struct{}

// WithOperatorContext attaches an OperatorContext to the given context.
func WithOperatorContext(ctx context.Context, oc *OperatorContext) context.Context {
	return context.WithValue(ctx, contextKey{}, oc)
}

// OperatorContextFrom extracts the OperatorContext from the context, or
// returns nil if not present.
func OperatorContextFrom(ctx context.Context) *OperatorContext {
	oc, _ := ctx.Value(contextKey{}).(*OperatorContext)
	return oc
}
