package logging

import "context"

type contextKey int

const (
	taskIDKey contextKey = iota
	txnIDKey
	componentKey
)

// WithTask returns a context carrying the task ID for automatic inclusion
// in subsequent log calls.
func WithTask(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// WithTxn returns a context carrying the transaction ID for automatic
// inclusion in subsequent log calls.
func WithTxn(ctx context.Context, txnID string) context.Context {
	return context.WithValue(ctx, txnIDKey, txnID)
}

// WithComponent returns a context tagged with the originating component
// name (e.g. "editor", "undo"), surfaced as a log field.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}
