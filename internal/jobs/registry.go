// Package jobs tracks submitted thread jobs and runs each one in its own
// goroutine.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/threadpost/internal/events"
	"github.com/kiranshivaraju/threadpost/internal/publisher"
	"github.com/kiranshivaraju/threadpost/internal/thread"
	"github.com/kiranshivaraju/threadpost/pkg/models"
)

var (
	ErrNotFound        = errors.New("thread not found")
	ErrAlreadyTerminal = errors.New("thread already finished")
	ErrShuttingDown    = errors.New("registry is shutting down")
)

// eventBacklog bounds the events queued for the sink. Events beyond it are
// dropped so a slow broker never holds up a job.
const eventBacklog = 1024

// validTransitions defines allowed job state changes.
var validTransitions = map[models.JobState][]models.JobState{
	models.JobStatePending: {models.JobStateRunning, models.JobStateCancelled, models.JobStateFailed},
	models.JobStateRunning: {models.JobStateCompleted, models.JobStateFailed, models.JobStateCancelled},
}

// Runner executes one thread. *thread.Pipeline satisfies it.
type Runner interface {
	Check(texts []string) error
	Run(ctx context.Context, texts []string, opts ...thread.RunOption) (*thread.Result, error)
}

// Observer is notified of job lifecycle changes.
type Observer interface {
	ThreadSubmitted()
	PostPublished()
	ThreadFinished(state models.JobState)
}

type nopObserver struct{}

func (nopObserver) ThreadSubmitted()               {}
func (nopObserver) PostPublished()                 {}
func (nopObserver) ThreadFinished(models.JobState) {}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxRetained caps the number of jobs kept in memory. When exceeded,
// the oldest finished jobs are evicted; pending and running jobs never are.
// Zero means unbounded.
func WithMaxRetained(n int) Option {
	return func(r *Registry) { r.maxRetained = n }
}

// WithSink publishes lifecycle events to s. Events are delivered in order
// from a single background goroutine, never from the job itself.
func WithSink(s events.Sink) Option {
	return func(r *Registry) { r.sink = s }
}

// WithObserver reports lifecycle changes to o.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

type entry struct {
	job    *models.ThreadJob
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns every ThreadJob. A single mutex guards the map and all job
// records; callers only ever see deep copies.
type Registry struct {
	runner      Runner
	maxRetained int
	sink        events.Sink
	observer    Observer
	now         func() time.Time

	mu     sync.Mutex
	jobs   map[string]*entry
	closed bool
	wg     sync.WaitGroup

	events      chan models.ThreadEvent
	eventsDone  chan struct{}
	closeEvents sync.Once
}

func NewRegistry(runner Runner, opts ...Option) *Registry {
	r := &Registry{
		runner:   runner,
		sink:     events.NopSink{},
		observer: nopObserver{},
		now:      time.Now,
		jobs:     make(map[string]*entry),

		events:     make(chan models.ThreadEvent, eventBacklog),
		eventsDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.deliverEvents()
	return r
}

// Submit validates req and starts a background job for it. It returns the
// new thread id, or the validation or configuration error without creating
// a job.
func (r *Registry) Submit(ctx context.Context, req models.ThreadRequest) (string, error) {
	if err := r.runner.Check(req.Texts); err != nil {
		return "", err
	}

	now := r.now()
	id := thread.NewThreadID()
	job := &models.ThreadJob{
		ThreadID:       id,
		State:          models.JobStatePending,
		Texts:          append([]string(nil), req.Texts...),
		ReplyToID:      req.ReplyToID,
		PublishedPosts: []models.PublishedPost{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Delay != nil {
		job.DelayMS = req.Delay.Milliseconds()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &entry{job: job, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return "", ErrShuttingDown
	}
	r.jobs[id] = e
	r.evictLocked()
	r.wg.Add(1)
	r.mu.Unlock()

	r.observer.ThreadSubmitted()
	slog.Info("thread job submitted", "thread_id", id, "post_count", len(job.Texts))

	go r.run(runCtx, e, req)
	return id, nil
}

func (r *Registry) run(ctx context.Context, e *entry, req models.ThreadRequest) {
	id := e.job.ThreadID
	defer r.wg.Done()
	defer close(e.done)
	defer e.cancel()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("thread job panicked", "thread_id", id, "panic", rec)
			r.finish(e, nil, fmt.Errorf("internal error: %v", rec))
		}
	}()

	r.emit(e, models.EventThreadSubmitted)

	opts := []thread.RunOption{
		thread.WithThreadID(id),
		thread.WithReplyTo(req.ReplyToID),
		thread.WithBeforePublish(func(int) error { return r.beforePublish(e) }),
		thread.WithAfterPublish(func(p models.PublishedPost) { r.recordPost(e, p) }),
	}
	if req.Delay != nil {
		opts = append(opts, thread.WithDelay(*req.Delay))
	}

	res, err := r.runner.Run(ctx, req.Texts, opts...)
	r.finish(e, res, err)
}

// beforePublish moves the job to running ahead of its first post and stops
// the run once a cancel has been requested.
func (r *Registry) beforePublish(e *entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := e.job
	if job.State == models.JobStateCancelled || job.CancelRequested {
		return thread.ErrCancelled
	}
	if job.State == models.JobStatePending {
		now := r.now()
		if err := transition(job, models.JobStateRunning, now); err != nil {
			return err
		}
		job.StartedAt = &now
	}
	return nil
}

func (r *Registry) recordPost(e *entry, p models.PublishedPost) {
	r.mu.Lock()
	e.job.PublishedPosts = append(e.job.PublishedPosts, p)
	e.job.UpdatedAt = r.now()
	r.mu.Unlock()

	r.observer.PostPublished()
}

// finish records the outcome of a run. A job already cancelled while
// pending keeps that state.
func (r *Registry) finish(e *entry, res *thread.Result, runErr error) {
	r.mu.Lock()
	job := e.job
	now := r.now()

	if !job.State.Terminal() {
		next, jobErr := outcome(job, runErr)
		if err := transition(job, next, now); err != nil {
			slog.Error("thread job state change rejected", "thread_id", job.ThreadID, "error", err)
			next = models.JobStateFailed
			job.State = next
		}
		job.Error = jobErr
		job.FinishedAt = &now
	}
	if res != nil && len(res.PublishedPosts) > len(job.PublishedPosts) {
		job.PublishedPosts = append([]models.PublishedPost(nil), res.PublishedPosts...)
	}
	state := job.State
	published := len(job.PublishedPosts)
	r.evictLocked()
	r.mu.Unlock()

	r.observer.ThreadFinished(state)

	attrs := []any{"thread_id", job.ThreadID, "state", state, "published_count", published}
	if runErr != nil && state != models.JobStateCancelled {
		slog.Warn("thread job finished", append(attrs, "error", runErr)...)
	} else {
		slog.Info("thread job finished", attrs...)
	}

	switch state {
	case models.JobStateCompleted:
		r.emit(e, models.EventThreadCompleted)
	case models.JobStateFailed:
		r.emit(e, models.EventThreadFailed)
	case models.JobStateCancelled:
		r.emit(e, models.EventThreadCancelled)
	}
}

// outcome maps a run error to the terminal state and failure record.
func outcome(job *models.ThreadJob, err error) (models.JobState, *models.JobError) {
	if err == nil {
		return models.JobStateCompleted, nil
	}
	if errors.Is(err, thread.ErrCancelled) {
		return models.JobStateCancelled, &models.JobError{
			Message: fmt.Sprintf("cancelled after %d published posts", len(job.PublishedPosts)),
		}
	}

	jobErr := &models.JobError{Message: err.Error()}
	var te *thread.ThreadError
	if errors.As(err, &te) {
		idx := te.FailedAtIndex
		jobErr.FailedAtIndex = &idx
	}
	var pe *publisher.PlatformError
	if errors.As(err, &pe) {
		jobErr.StatusCode = pe.StatusCode
	}
	return models.JobStateFailed, jobErr
}

func transition(job *models.ThreadJob, to models.JobState, now time.Time) error {
	for _, allowed := range validTransitions[job.State] {
		if allowed == to {
			job.State = to
			job.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("invalid state transition from %q to %q", job.State, to)
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (models.ThreadJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return models.ThreadJob{}, ErrNotFound
	}
	return snapshot(e.job), nil
}

// List returns summaries of all retained jobs, oldest first.
func (r *Registry) List() []models.JobSummary {
	r.mu.Lock()
	out := make([]models.JobSummary, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, e.job.Summary())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ThreadID < out[j].ThreadID
	})
	return out
}

// Cancel stops a job. A pending job is cancelled at once. A running job is
// flagged and stops before its next post; the post in flight, if any, is
// allowed to finish. Cancelling a finished job returns ErrAlreadyTerminal
// together with its snapshot.
func (r *Registry) Cancel(id string) (models.ThreadJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return models.ThreadJob{}, ErrNotFound
	}

	job := e.job
	now := r.now()
	switch {
	case job.State.Terminal():
		return snapshot(job), ErrAlreadyTerminal
	case job.State == models.JobStatePending:
		if err := transition(job, models.JobStateCancelled, now); err != nil {
			return snapshot(job), err
		}
		job.FinishedAt = &now
		job.Error = &models.JobError{Message: "cancelled before the first post"}
	default:
		job.CancelRequested = true
		job.UpdatedAt = now
	}
	e.cancel()

	slog.Info("thread job cancel requested", "thread_id", id, "state", job.State)
	return snapshot(job), nil
}

// Wait blocks until the job is finished or ctx is done, then returns its
// final snapshot.
func (r *Registry) Wait(ctx context.Context, id string) (models.ThreadJob, error) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return models.ThreadJob{}, ErrNotFound
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return models.ThreadJob{}, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(e.job), nil
}

// Shutdown stops accepting jobs, cancels every unfinished one and waits
// for their goroutines to return, then for queued events to reach the sink.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, e := range r.jobs {
		if !e.job.State.Terminal() {
			e.job.CancelRequested = true
			e.cancel()
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for thread jobs: %w", ctx.Err())
	}

	// No job goroutine is left to emit.
	r.closeEvents.Do(func() { close(r.events) })
	select {
	case <-r.eventsDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flushing thread events: %w", ctx.Err())
	}
}

// evictLocked drops the oldest finished jobs until the retention cap holds.
func (r *Registry) evictLocked() {
	if r.maxRetained <= 0 || len(r.jobs) <= r.maxRetained {
		return
	}

	var finished []*models.ThreadJob
	for _, e := range r.jobs {
		if e.job.State.Terminal() {
			finished = append(finished, e.job)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		if !finished[i].CreatedAt.Equal(finished[j].CreatedAt) {
			return finished[i].CreatedAt.Before(finished[j].CreatedAt)
		}
		return finished[i].ThreadID < finished[j].ThreadID
	})

	for _, job := range finished {
		if len(r.jobs) <= r.maxRetained {
			return
		}
		delete(r.jobs, job.ThreadID)
	}
}

// emit queues an event without blocking the job.
func (r *Registry) emit(e *entry, typ string) {
	r.mu.Lock()
	job := e.job
	ev := models.ThreadEvent{
		Type:           typ,
		ThreadID:       job.ThreadID,
		State:          job.State,
		PostCount:      len(job.Texts),
		PublishedCount: len(job.PublishedPosts),
		PostIDs:        job.PostIDs(),
		OccurredAt:     r.now(),
	}
	if job.Error != nil {
		ev.Error = job.Error.Message
		if job.Error.FailedAtIndex != nil {
			idx := *job.Error.FailedAtIndex
			ev.FailedAtIndex = &idx
		}
	}
	r.mu.Unlock()

	select {
	case r.events <- ev:
	default:
		slog.Warn("thread event dropped, sink backlog full", "thread_id", ev.ThreadID, "type", typ)
	}
}

func (r *Registry) deliverEvents() {
	defer close(r.eventsDone)
	for ev := range r.events {
		if err := r.sink.Emit(context.Background(), ev); err != nil {
			slog.Warn("emitting thread event failed", "thread_id", ev.ThreadID, "type", ev.Type, "error", err)
		}
	}
}

func snapshot(job *models.ThreadJob) models.ThreadJob {
	out := *job
	out.Texts = append([]string(nil), job.Texts...)
	out.PublishedPosts = append([]models.PublishedPost{}, job.PublishedPosts...)
	if job.Error != nil {
		jobErr := *job.Error
		if job.Error.FailedAtIndex != nil {
			idx := *job.Error.FailedAtIndex
			jobErr.FailedAtIndex = &idx
		}
		out.Error = &jobErr
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		out.StartedAt = &t
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
