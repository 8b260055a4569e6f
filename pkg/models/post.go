// Package models contains shared data models used across the threadpost codebase.
package models

import "time"

// ThreadRequest is the normalized form of an inbound thread request.
type ThreadRequest struct {
	Texts []string
	// Delay overrides the configured pause between posts when non-nil.
	Delay *time.Duration
	// ReplyToID continues an existing thread: the first post replies to it.
	ReplyToID string
}

// PublishedPost is one post that the remote platform accepted.
type PublishedPost struct {
	ID            string    `json:"id"`
	SequenceIndex int       `json:"sequence_index"`
	PublishedAt   time.Time `json:"published_at"`
}
