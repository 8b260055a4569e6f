package thread_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/threadpost/internal/config"
	"github.com/kiranshivaraju/threadpost/internal/publisher"
	"github.com/kiranshivaraju/threadpost/internal/publisher/mock"
	"github.com/kiranshivaraju/threadpost/internal/thread"
	"github.com/kiranshivaraju/threadpost/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPacer records requested waits without sleeping.
type recordingPacer struct {
	mu     sync.Mutex
	waits  []time.Duration
	onWait func(n int)
}

func (p *recordingPacer) Wait(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.waits = append(p.waits, d)
	n := len(p.waits)
	p.mu.Unlock()
	if p.onWait != nil {
		p.onWait(n)
	}
	return ctx.Err()
}

func (p *recordingPacer) Waits() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.waits...)
}

func newPipeline(pub models.Publisher, pacer thread.Pacer, delay time.Duration) *thread.Pipeline {
	v := thread.NewValidator(config.ThreadConfig{MaxPosts: 25, MaxPostLength: 280})
	return thread.NewPipeline(v, pub, pacer, delay)
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strings.Repeat("t", i+1)
	}
	return out
}

func TestRun_ChainsReplies(t *testing.T) {
	pub := mock.NewMockPublisher()
	pacer := &recordingPacer{}
	p := newPipeline(pub, pacer, 10*time.Second)

	res, err := p.Run(context.Background(), texts(4), thread.WithThreadID("thread_test"))
	require.NoError(t, err)

	calls := pub.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "", calls[0].ReplyToID, "first post must not be a reply")
	for k := 1; k < len(calls); k++ {
		assert.Equal(t, mock.PostID(k-1), calls[k].ReplyToID)
		assert.Equal(t, texts(4)[k], calls[k].Text)
	}

	require.Len(t, res.PublishedPosts, 4)
	for i, post := range res.PublishedPosts {
		assert.Equal(t, i, post.SequenceIndex)
		assert.Equal(t, mock.PostID(i), post.ID)
		assert.False(t, post.PublishedAt.IsZero())
	}
	assert.Equal(t, "thread_test", res.ThreadID)
	assert.Equal(t, []string{mock.PostID(0), mock.PostID(1), mock.PostID(2), mock.PostID(3)}, res.PostIDs())

	// Pacing only happens between posts.
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second}, pacer.Waits())
	assert.Equal(t, 1, pub.MaxConcurrent())
}

func TestRun_SinglePostDoesNotWait(t *testing.T) {
	pub := mock.NewMockPublisher()
	pacer := &recordingPacer{}
	p := newPipeline(pub, pacer, time.Second)

	res, err := p.Run(context.Background(), []string{"only"})
	require.NoError(t, err)
	assert.Len(t, res.PublishedPosts, 1)
	assert.Empty(t, pacer.Waits())
}

func TestRun_ElapsedTimeCoversDelays(t *testing.T) {
	pub := mock.NewMockPublisher()
	p := newPipeline(pub, thread.SleepPacer{}, 30*time.Millisecond)

	start := time.Now()
	_, err := p.Run(context.Background(), texts(3))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRun_DelayOverride(t *testing.T) {
	pub := mock.NewMockPublisher()
	pacer := &recordingPacer{}
	p := newPipeline(pub, pacer, 10*time.Second)

	_, err := p.Run(context.Background(), texts(2), thread.WithDelay(250*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, pacer.Waits())
}

func TestRun_ReplyToContinuesThread(t *testing.T) {
	pub := mock.NewMockPublisher()
	p := newPipeline(pub, &recordingPacer{}, 0)

	_, err := p.Run(context.Background(), texts(2), thread.WithReplyTo("1700000000000000000"))
	require.NoError(t, err)

	calls := pub.Calls()
	assert.Equal(t, "1700000000000000000", calls[0].ReplyToID)
	assert.Equal(t, mock.PostID(0), calls[1].ReplyToID)
}

func TestRun_ValidationFailureMakesNoCalls(t *testing.T) {
	cases := map[string][]string{
		"empty":    {},
		"too many": texts(26),
		"blank":    {"a", " "},
		"too long": {"a", "b", strings.Repeat("x", 281)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			pub := mock.NewMockPublisher()
			p := newPipeline(pub, &recordingPacer{}, 0)

			res, err := p.Run(context.Background(), in)
			assert.Nil(t, res)
			var ve *thread.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Zero(t, pub.CallCount())
		})
	}
}

func TestRun_PostTooLongAtIndex(t *testing.T) {
	pub := mock.NewMockPublisher()
	p := newPipeline(pub, &recordingPacer{}, 0)

	_, err := p.Run(context.Background(), []string{"a", "b", strings.Repeat("x", 300)})
	var ve *thread.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.ErrorIs(t, err, thread.ErrPostTooLong)
	assert.Equal(t, 2, ve.Index)
	assert.Zero(t, pub.CallCount(), "no post may be published, including those before the bad one")
}

func TestRun_NotConfiguredMakesNoCalls(t *testing.T) {
	pub := mock.NewMockPublisher()
	pub.ReadyErr = &publisher.ConfigurationError{Reason: "missing token"}
	p := newPipeline(pub, &recordingPacer{}, 0)

	_, err := p.Run(context.Background(), texts(2))
	assert.ErrorIs(t, err, publisher.ErrNotConfigured)
	assert.Zero(t, pub.CallCount())
}

func TestRun_PartialFailure(t *testing.T) {
	for f := 0; f < 4; f++ {
		pe := &publisher.PlatformError{StatusCode: http.StatusForbidden, RawBody: `{"detail":"nope"}`}
		pub := mock.NewFailingPublisher(f, pe)
		p := newPipeline(pub, &recordingPacer{}, 0)

		res, err := p.Run(context.Background(), texts(4))
		assert.Nil(t, res)

		var te *thread.ThreadError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, f, te.FailedAtIndex)
		require.Len(t, te.PublishedSoFar, f)
		for i, post := range te.PublishedSoFar {
			assert.Equal(t, i, post.SequenceIndex)
		}
		assert.Equal(t, f+1, pub.CallCount(), "no call may follow the failed one")

		var got *publisher.PlatformError
		require.True(t, errors.As(err, &got))
		assert.Equal(t, http.StatusForbidden, got.StatusCode)
	}
}

func TestRun_EmptyPostIDIsFailure(t *testing.T) {
	pub := mock.NewMockPublisher()
	pub.PublishFunc = func(_ context.Context, _ int, _, _ string) (string, error) { return "", nil }
	p := newPipeline(pub, &recordingPacer{}, 0)

	_, err := p.Run(context.Background(), texts(3))
	var te *thread.ThreadError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 0, te.FailedAtIndex)
	assert.Equal(t, 1, pub.CallCount())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	pub := mock.NewMockPublisher()
	p := newPipeline(pub, &recordingPacer{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, texts(3))
	assert.ErrorIs(t, err, thread.ErrCancelled)
	assert.Zero(t, pub.CallCount())
}

func TestRun_CancelDuringWait(t *testing.T) {
	pub := mock.NewMockPublisher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel while pacing after the second post.
	pacer := &recordingPacer{onWait: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	p := newPipeline(pub, pacer, time.Second)

	_, err := p.Run(ctx, texts(5))
	var ce *thread.CancellationError
	require.True(t, errors.As(err, &ce))
	assert.Len(t, ce.PublishedSoFar, 2)
	assert.Equal(t, 2, pub.CallCount())
}

func TestRun_CancelDuringPublishFinishesInFlightCall(t *testing.T) {
	started := make(chan int, 1)
	release := make(chan struct{})
	pub := mock.NewGatedPublisher(started, release)
	p := newPipeline(pub, &recordingPacer{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		res *thread.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.Run(ctx, texts(3))
		done <- outcome{res, err}
	}()

	assert.Equal(t, 0, <-started)
	cancel()
	close(release)

	out := <-done
	var ce *thread.CancellationError
	require.True(t, errors.As(out.err, &ce))
	assert.Len(t, ce.PublishedSoFar, 1, "the in-flight post completes")
	assert.Equal(t, 1, pub.CallCount())
}

func TestRun_BeforePublishHookStopsRun(t *testing.T) {
	pub := mock.NewMockPublisher()
	p := newPipeline(pub, &recordingPacer{}, 0)

	var seen []int
	var recorded []models.PublishedPost
	_, err := p.Run(context.Background(), texts(4),
		thread.WithBeforePublish(func(i int) error {
			seen = append(seen, i)
			if i == 2 {
				return thread.ErrCancelled
			}
			return nil
		}),
		thread.WithAfterPublish(func(post models.PublishedPost) {
			recorded = append(recorded, post)
		}),
	)

	assert.ErrorIs(t, err, thread.ErrCancelled)
	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.Len(t, recorded, 2)
	assert.Equal(t, 2, pub.CallCount())
}

func TestRun_DoesNotAliasInput(t *testing.T) {
	pub := mock.NewMockPublisher()
	in := []string{"a", "b"}

	var once sync.Once
	pacer := &recordingPacer{onWait: func(int) {
		once.Do(func() { in[1] = "mutated" })
	}}
	p := newPipeline(pub, pacer, 0)

	_, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "b", pub.Calls()[1].Text)
}

func TestRun_CancelWhileWaitingForPublishSlot(t *testing.T) {
	pub := mock.NewMockPublisher()
	// One call per minute: the second post waits on the limiter.
	guard := publisher.NewGuard(pub, publisher.GuardConfig{RatePerMinute: 1})
	p := newPipeline(guard, &recordingPacer{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		res *thread.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.Run(ctx, []string{"a", "b"})
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool { return pub.CallCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()

	var got outcome
	select {
	case got = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	assert.Nil(t, got.res)
	var ce *thread.CancellationError
	require.ErrorAs(t, got.err, &ce)
	assert.Len(t, ce.PublishedSoFar, 1)
	assert.Equal(t, 1, pub.CallCount(), "the waiting post is never sent")
}
