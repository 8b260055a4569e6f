// Package events publishes thread job lifecycle events.
package events

import (
	"context"

	"github.com/kiranshivaraju/threadpost/pkg/models"
)

// Sink receives lifecycle events. Emit must not block the caller for long;
// failures are logged by the caller and never affect the job.
type Sink interface {
	Emit(ctx context.Context, ev models.ThreadEvent) error
	Close()
}

// NopSink drops every event. Used when no broker is configured.
type NopSink struct{}

func (NopSink) Emit(context.Context, models.ThreadEvent) error { return nil }

func (NopSink) Close() {}
