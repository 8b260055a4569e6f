package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/threadpost/pkg/models"
)

// Result is the outcome of a run in which every post was published.
type Result struct {
	ThreadID       string
	PublishedPosts []models.PublishedPost
	StartedAt      time.Time
	FinishedAt     time.Time
}

// PostIDs returns the published post ids in sequence order.
func (r *Result) PostIDs() []string {
	ids := make([]string, len(r.PublishedPosts))
	for i, p := range r.PublishedPosts {
		ids[i] = p.ID
	}
	return ids
}

type runOptions struct {
	threadID      string
	delay         *time.Duration
	replyTo       string
	beforePublish func(index int) error
	afterPublish  func(post models.PublishedPost)
}

// RunOption customizes a single Pipeline.Run call.
type RunOption func(*runOptions)

// WithThreadID sets the id used in log lines and on the Result.
func WithThreadID(id string) RunOption {
	return func(o *runOptions) { o.threadID = id }
}

// WithDelay overrides the configured pause between posts.
func WithDelay(d time.Duration) RunOption {
	return func(o *runOptions) { o.delay = &d }
}

// WithReplyTo makes the first post a reply to an existing post id.
func WithReplyTo(postID string) RunOption {
	return func(o *runOptions) { o.replyTo = postID }
}

// WithBeforePublish registers a hook called before each publish. A non-nil
// error stops the run as cancelled.
func WithBeforePublish(fn func(index int) error) RunOption {
	return func(o *runOptions) { o.beforePublish = fn }
}

// WithAfterPublish registers a hook called after each successful publish.
func WithAfterPublish(fn func(post models.PublishedPost)) RunOption {
	return func(o *runOptions) { o.afterPublish = fn }
}

// Pipeline publishes a validated thread as a reply chain, one post at a
// time, pausing between posts.
type Pipeline struct {
	validator *Validator
	publisher models.Publisher
	pacer     Pacer
	delay     time.Duration
	now       func() time.Time
}

func NewPipeline(v *Validator, p models.Publisher, pacer Pacer, delay time.Duration) *Pipeline {
	if pacer == nil {
		pacer = SleepPacer{}
	}
	return &Pipeline{
		validator: v,
		publisher: p,
		pacer:     pacer,
		delay:     delay,
		now:       time.Now,
	}
}

// Check runs every test Run performs before its first publish call.
func (p *Pipeline) Check(texts []string) error {
	if err := p.validator.Validate(texts); err != nil {
		return err
	}
	return p.publisher.Ready()
}

// Run validates texts and publishes them in order. Post k>0 replies to
// post k-1. On a publish failure it stops and returns a *ThreadError; posts
// already published are left in place. Cancelling ctx is observed only
// between posts and yields a *CancellationError; a publish call in flight
// always runs to completion.
func (p *Pipeline) Run(ctx context.Context, texts []string, opts ...RunOption) (*Result, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := p.Check(texts); err != nil {
		return nil, err
	}

	texts = append([]string(nil), texts...)
	delay := p.delay
	if o.delay != nil {
		delay = max(*o.delay, 0)
	}

	logger := slog.With("thread_id", o.threadID, "publisher", p.publisher.Name())
	logger.Info("thread run started", "post_count", len(texts), "delay_ms", delay.Milliseconds())

	res := &Result{ThreadID: o.threadID, StartedAt: p.now()}
	published := make([]models.PublishedPost, 0, len(texts))
	prev := o.replyTo

	for i, text := range texts {
		if ctx.Err() != nil {
			logger.Info("thread run cancelled", "published_count", len(published))
			return nil, &CancellationError{PublishedSoFar: published}
		}
		if o.beforePublish != nil {
			if err := o.beforePublish(i); err != nil {
				logger.Info("thread run cancelled", "published_count", len(published), "reason", err.Error())
				return nil, &CancellationError{PublishedSoFar: published}
			}
		}

		start := time.Now()
		id, err := p.publisher.Publish(models.WithWaitContext(context.WithoutCancel(ctx), ctx), text, prev)
		if errors.Is(err, models.ErrPublishAbandoned) {
			logger.Info("thread run cancelled before post was sent", "index", i, "published_count", len(published))
			return nil, &CancellationError{PublishedSoFar: published}
		}
		if err != nil {
			logger.Error("publishing post failed",
				"index", i,
				"published_count", len(published),
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err,
			)
			return nil, &ThreadError{FailedAtIndex: i, PublishedSoFar: published, Cause: err}
		}
		if id == "" {
			return nil, &ThreadError{
				FailedAtIndex:  i,
				PublishedSoFar: published,
				Cause:          fmt.Errorf("publisher %s returned an empty post id", p.publisher.Name()),
			}
		}

		post := models.PublishedPost{ID: id, SequenceIndex: i, PublishedAt: p.now()}
		published = append(published, post)
		prev = id
		logger.Info("post published",
			"index", i,
			"post_id", id,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		if o.afterPublish != nil {
			o.afterPublish(post)
		}

		if i < len(texts)-1 {
			if err := p.pacer.Wait(ctx, delay); err != nil {
				logger.Info("thread run cancelled during wait", "published_count", len(published))
				return nil, &CancellationError{PublishedSoFar: published}
			}
		}
	}

	res.PublishedPosts = published
	res.FinishedAt = p.now()
	logger.Info("thread run completed", "published_count", len(published))
	return res, nil
}
