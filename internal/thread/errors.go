package thread

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/threadpost/pkg/models"
)

var (
	ErrEmptyThread  = errors.New("thread has no posts")
	ErrTooManyPosts = errors.New("thread has too many posts")
	ErrBlankPost    = errors.New("post is blank")
	ErrPostTooLong  = errors.New("post exceeds length limit")
	ErrCancelled    = errors.New("thread cancelled")
)

// ValidationError describes why a thread was rejected before any post was
// published. Kind is one of the Err*Thread/Err*Post sentinels; the other
// fields are set only where they apply to that kind.
type ValidationError struct {
	Kind   error
	Index  int
	Length int
	Limit  int
	Actual int
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case ErrTooManyPosts:
		return fmt.Sprintf("%v: %d posts, limit is %d", e.Kind, e.Actual, e.Limit)
	case ErrBlankPost:
		return fmt.Sprintf("%v: index %d", e.Kind, e.Index)
	case ErrPostTooLong:
		return fmt.Sprintf("%v: index %d has %d characters, limit is %d", e.Kind, e.Index, e.Length, e.Limit)
	default:
		return e.Kind.Error()
	}
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// ThreadError is returned when a publish call fails part way through a
// thread. Posts in PublishedSoFar stay live on the platform.
type ThreadError struct {
	FailedAtIndex  int
	PublishedSoFar []models.PublishedPost
	Cause          error
}

func (e *ThreadError) Error() string {
	return fmt.Sprintf("publishing post %d failed after %d published: %v",
		e.FailedAtIndex, len(e.PublishedSoFar), e.Cause)
}

func (e *ThreadError) Unwrap() error { return e.Cause }

// CancellationError is returned when a run stops because cancellation was
// requested between posts.
type CancellationError struct {
	PublishedSoFar []models.PublishedPost
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("%v after %d published posts", ErrCancelled, len(e.PublishedSoFar))
}

func (e *CancellationError) Is(target error) bool { return target == ErrCancelled }
