package models

import "time"

const (
	EventThreadSubmitted = "thread.submitted"
	EventThreadCompleted = "thread.completed"
	EventThreadFailed    = "thread.failed"
	EventThreadCancelled = "thread.cancelled"
)

// ThreadEvent is emitted on thread job lifecycle changes.
type ThreadEvent struct {
	Type           string    `json:"type"`
	ThreadID       string    `json:"thread_id"`
	State          JobState  `json:"state"`
	PostCount      int       `json:"post_count"`
	PublishedCount int       `json:"published_count"`
	PostIDs        []string  `json:"post_ids,omitempty"`
	FailedAtIndex  *int      `json:"failed_at_index,omitempty"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
