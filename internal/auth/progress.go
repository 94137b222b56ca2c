package auth

import "context"

// ProgressFunc receives the human-readable steps of a running attempt.
type ProgressFunc func(msg string)

type progressKey struct{}

// WithProgress returns a context whose attempts report their steps to fn.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ProgressFrom returns the reporter carried by ctx, or one that drops
// everything.
func ProgressFrom(ctx context.Context) ProgressFunc {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok && fn != nil {
		return fn
	}
	return func(string) {}
}
