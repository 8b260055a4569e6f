package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"golang.org/x/time/rate"

	"github.com/kiranshivaraju/threadpost/pkg/models"
)

const (
	defaultBreakerThreshold = 5
	defaultBreakerDelay     = 60 * time.Second
)

// GuardConfig configures a Guard.
type GuardConfig struct {
	// RatePerMinute caps publish calls across all threads. Zero disables
	// the limiter.
	RatePerMinute int

	// FailureThreshold is the number of consecutive transient failures that
	// opens the circuit.
	FailureThreshold int

	// Delay is how long the circuit stays open before a trial call.
	Delay time.Duration
}

// Guard protects the platform account shared by every thread job. It
// spaces publish calls process-wide and stops calling the platform while
// it is failing. It never retries: a rejected call is returned to the
// caller as is.
type Guard struct {
	next    models.Publisher
	limiter *rate.Limiter
	breaker circuitbreaker.CircuitBreaker[string]
}

// NewGuard wraps next with the configured limiter and circuit breaker.
func NewGuard(next models.Publisher, cfg GuardConfig) *Guard {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultBreakerThreshold
	}
	if cfg.Delay <= 0 {
		cfg.Delay = defaultBreakerDelay
	}

	g := &Guard{next: next}
	if cfg.RatePerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}

	threshold := uint(cfg.FailureThreshold)
	g.breaker = circuitbreaker.NewBuilder[string]().
		WithFailureThresholdRatio(threshold, threshold).
		WithDelay(cfg.Delay).
		WithSuccessThreshold(1).
		HandleIf(func(_ string, err error) bool {
			var pe *PlatformError
			return errors.As(err, &pe) && pe.Retryable()
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			slog.Warn("publisher circuit breaker state change",
				"publisher", next.Name(),
				"from_state", stateName(event.OldState),
				"to_state", stateName(event.NewState),
			)
		}).
		Build()

	return g
}

func (g *Guard) Name() string { return g.next.Name() }

func (g *Guard) Ready() error { return g.next.Ready() }

func (g *Guard) Publish(ctx context.Context, text, replyToID string) (string, error) {
	if g.limiter != nil {
		waitCtx := models.WaitContext(ctx)
		if err := g.limiter.Wait(waitCtx); err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return "", fmt.Errorf("%w: waiting for publish slot: %w", models.ErrPublishAbandoned, err)
			}
			return "", &PlatformError{Cause: fmt.Errorf("%w: waiting for publish slot: %v", ErrTransport, err)}
		}
	}

	id, err := failsafe.With[string](g.breaker).Get(func() (string, error) {
		return g.next.Publish(ctx, text, replyToID)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return "", &PlatformError{Cause: fmt.Errorf("%w: platform calls suspended after repeated failures", ErrCircuitOpen)}
	}
	return id, err
}

// BreakerState returns the circuit state as "closed", "open" or "half-open".
func (g *Guard) BreakerState() string {
	return stateName(g.breaker.State())
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}

var _ models.Publisher = (*Guard)(nil)
