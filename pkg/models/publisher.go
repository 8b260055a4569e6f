package models

import (
	"context"
	"errors"
)

// ErrPublishAbandoned is returned by a Publisher that gave up on a post
// before sending it, because the thread was cancelled while it waited.
var ErrPublishAbandoned = errors.New("publish abandoned before sending")

// Publisher is the remote posting capability. Every platform integration
// implements it; the thread pipeline only ever talks to this interface.
type Publisher interface {
	// Publish creates one post. A non-empty replyToID makes the post a reply
	// to that post, which is what links a thread together. Implementations
	// must not retry.
	Publish(ctx context.Context, text, replyToID string) (string, error)
	// Ready returns a configuration error when the publisher cannot work at
	// all, e.g. because credentials are missing.
	Ready() error
	// Name returns the publisher identifier (e.g., "x", "dry_run").
	Name() string
}

type waitContextKey struct{}

// WithWaitContext attaches waitCtx to ctx. The context passed to Publish is
// detached from thread cancellation so a sent request is never cut off;
// waits that happen before sending use waitCtx instead.
func WithWaitContext(ctx, waitCtx context.Context) context.Context {
	return context.WithValue(ctx, waitContextKey{}, waitCtx)
}

// WaitContext returns the context attached by WithWaitContext, or ctx.
func WaitContext(ctx context.Context) context.Context {
	if w, ok := ctx.Value(waitContextKey{}).(context.Context); ok {
		return w
	}
	return ctx
}
