package crawler

import (
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// Action is what a worker does with an item whose processing failed.
type Action int

// Retry actions.
const (
	// ActionRenewSession discards the session, logs in again and retries
	// the same item.
	ActionRenewSession Action = iota + 1
	// ActionRequeue puts the item back into the frontier.
	ActionRequeue
	// ActionMarkDone completes the item without discoveries.
	ActionMarkDone
	// ActionDrop abandons the item for this level.
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionRenewSession:
		return "renew_session"
	case ActionRequeue:
		return "requeue"
	case ActionMarkDone:
		return "mark_done"
	case ActionDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// RetryPolicy maps a failure to an Action. Session errors always renew the
// session, timeouts always requeue, unavailable items are done, malformed
// responses are dropped and any other error is requeued with jittered
// backoff until maxAttempts attempts failed.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds a policy. Non-positive values select the defaults
// of 5 attempts and a 250ms..5s backoff.
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &RetryPolicy{maxAttempts: maxAttempts, baseDelay: baseDelay, maxDelay: maxDelay}
}

// Decide classifies err for the given 1-based attempt.
func (p *RetryPolicy) Decide(err error, attempt int) Action {
	switch {
	case err == nil:
		return ActionMarkDone
	case catalog.IsSessionError(err):
		return ActionRenewSession
	case errors.Is(err, catalog.ErrTimeout):
		return ActionRequeue
	case errors.Is(err, catalog.ErrNotAvailable):
		return ActionMarkDone
	case errors.Is(err, catalog.ErrMalformedResponse):
		return ActionDrop
	case catalog.IsCanceled(err):
		return ActionDrop
	case attempt >= p.maxAttempts:
		return ActionDrop
	default:
		return ActionRequeue
	}
}

// Delay returns how long to hold a failed item before requeueing it.
// Timeouts are requeued immediately.
func (p *RetryPolicy) Delay(err error, attempt int) time.Duration {
	if errors.Is(err, catalog.ErrTimeout) || p.Decide(err, attempt) != ActionRequeue {
		return 0
	}
	return p.Backoff(attempt)
}

// Backoff returns the wait before the next attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
