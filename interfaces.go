package ruikei

import "context"

// ReviewHook receives async notifications when the reconciler queues a
// review. Multiple hooks may be registered via multiple WithReviewHook calls.
// Hook methods run in goroutines and must not block indefinitely. Failures
// are logged but never affect reconciliation.
type ReviewHook interface {
	OnReviewQueued(ctx context.Context, review Review) error
}

// NoticeSink receives every audit notice alongside the built-in log and
// Postgres sinks. OnNotice is called synchronously on the reconciliation
// path, so implementations should hand the notice off and return.
type NoticeSink interface {
	OnNotice(ctx context.Context, notice Notice)
}
