package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/threadpost/pkg/models"
)

// Call records one Publish invocation.
type Call struct {
	Index     int
	Text      string
	ReplyToID string
}

// MockPublisher satisfies models.Publisher for testing. PublishFunc receives
// the zero-based call index.
type MockPublisher struct {
	Name_       string
	ReadyErr    error
	PublishFunc func(ctx context.Context, index int, text, replyToID string) (string, error)

	mu       sync.Mutex
	calls    []Call
	inFlight int
	maxConc  int
}

func (m *MockPublisher) Name() string { return m.Name_ }

func (m *MockPublisher) Ready() error { return m.ReadyErr }

func (m *MockPublisher) Publish(ctx context.Context, text, replyToID string) (string, error) {
	m.mu.Lock()
	index := len(m.calls)
	m.calls = append(m.calls, Call{Index: index, Text: text, ReplyToID: replyToID})
	m.inFlight++
	if m.inFlight > m.maxConc {
		m.maxConc = m.inFlight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, index, text, replyToID)
	}
	return PostID(index), nil
}

// Calls returns a copy of the recorded calls in issue order.
func (m *MockPublisher) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Publish invocations so far.
func (m *MockPublisher) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MaxConcurrent returns the highest number of overlapping Publish calls seen.
func (m *MockPublisher) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConc
}

// PostID is the id the default mock returns for call index i.
func PostID(i int) string {
	return fmt.Sprintf("1%018d", i+1)
}

// NewMockPublisher returns a MockPublisher that accepts every post.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{Name_: "mock"}
}

// NewFailingPublisher returns a MockPublisher that accepts posts before
// failAt and returns err for the call at failAt and every call after it.
func NewFailingPublisher(failAt int, err error) *MockPublisher {
	return &MockPublisher{
		Name_: "mock-failing",
		PublishFunc: func(_ context.Context, index int, _, _ string) (string, error) {
			if index >= failAt {
				return "", err
			}
			return PostID(index), nil
		},
	}
}

// NewGatedPublisher returns a MockPublisher that reports each call on
// started and then blocks until a value arrives on release (or ctx ends).
func NewGatedPublisher(started chan<- int, release <-chan struct{}) *MockPublisher {
	return &MockPublisher{
		Name_: "mock-gated",
		PublishFunc: func(ctx context.Context, index int, _, _ string) (string, error) {
			started <- index
			select {
			case <-release:
				return PostID(index), nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}
}

// Compile-time check that MockPublisher implements Publisher.
var _ models.Publisher = (*MockPublisher)(nil)
