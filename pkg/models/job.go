package models

import "time"

// JobState is the lifecycle state of a thread job.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// ThreadJob tracks one submitted thread. The API returns a thread_id on
// POST /schedule-thread; the client polls GET /thread/{id} until the state
// is completed, failed or cancelled.
type ThreadJob struct {
	ThreadID       string          `json:"thread_id"`
	State          JobState        `json:"state"`
	Texts          []string        `json:"texts"`
	DelayMS        int64           `json:"delay_ms"`
	ReplyToID      string          `json:"reply_to_id,omitempty"`
	PublishedPosts []PublishedPost `json:"published_posts"`
	Error          *JobError       `json:"error,omitempty"`

	// CancelRequested is set when a cancel arrives while a post is in
	// flight. The job stops before the next post.
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// JobError is the failure record kept on a failed or cancelled job.
type JobError struct {
	Message       string `json:"message"`
	FailedAtIndex *int   `json:"failed_at_index,omitempty"`
	StatusCode    int    `json:"status_code,omitempty"`
}

// JobSummary is the list view of a ThreadJob.
type JobSummary struct {
	ThreadID       string    `json:"thread_id"`
	State          JobState  `json:"state"`
	PostCount      int       `json:"post_count"`
	PublishedCount int       `json:"published_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Summary returns the list view of j.
func (j *ThreadJob) Summary() JobSummary {
	return JobSummary{
		ThreadID:       j.ThreadID,
		State:          j.State,
		PostCount:      len(j.Texts),
		PublishedCount: len(j.PublishedPosts),
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

// PostIDs returns the ids of the published posts in sequence order.
func (j *ThreadJob) PostIDs() []string {
	ids := make([]string, len(j.PublishedPosts))
	for i, p := range j.PublishedPosts {
		ids[i] = p.ID
	}
	return ids
}
