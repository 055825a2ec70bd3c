// Package ratelimit guards abuse-prone mutations with a sliding-window
// check over records previously created by the same identity.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrRateLimitExceeded is returned when an identity has already created
// the maximum number of records for a resource class inside the window.
// Callers surface it distinctly so UIs can special-case the message.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Resource classes guarded by callers.
const (
	ClassSignatureRequest    = "signature_request"
	ClassSignatureSubmission = "signature_submission"
	ClassAccessKey           = "access_key"
)

// Limit defines a sliding-window rate limit.
// Valid values:
//   - Max: must be > 0
//   - Window: must be > 0
type Limit struct {
	// Max is the number of records an identity may create per window.
	// Must be > 0.
	Max int
	// Window is the trailing duration the count is derived over.
	// Must be > 0.
	Window time.Duration
}

// Validate checks that the Limit has valid values.
// Returns an error if Max <= 0 or Window <= 0.
func (l Limit) Validate() error {
	if l.Max <= 0 {
		return fmt.Errorf("Max must be > 0 (got %d)", l.Max)
	}
	if l.Window <= 0 {
		return fmt.Errorf("Window must be > 0 (got %s)", l.Window)
	}
	return nil
}

// defaultKeyCreationLimit caps access-key creation at 5 per minute.
var defaultKeyCreationLimit = Limit{Max: 5, Window: time.Minute}

// defaultSignatureCreationLimit caps signature-request creation at 20 per minute.
var defaultSignatureCreationLimit = Limit{Max: 20, Window: time.Minute}

// DefaultKeyCreationLimit returns a copy of the default access-key creation limit.
func DefaultKeyCreationLimit() Limit {
	return defaultKeyCreationLimit
}

// DefaultSignatureCreationLimit returns a copy of the default signature creation limit.
func DefaultSignatureCreationLimit() Limit {
	return defaultSignatureCreationLimit
}

// Counter derives how many records of a resource class an identity has
// created at or after a point in time. Implementations may count rows in
// the primary store or entries in a dedicated recorder backend.
type Counter interface {
	// CountInWindow returns the number of records of class created by
	// identity at or after since.
	CountInWindow(ctx context.Context, class, identity string, since time.Time) (int, error)
}

// Observer is optionally implemented by Counter backends that need an
// explicit record of each mutation (the primary store counts its own
// rows and does not implement it).
type Observer interface {
	// Observe records one mutation of class by identity at the given time.
	Observe(ctx context.Context, class, identity string, at time.Time) error
}

// Guard performs the synchronous read-then-decide check in front of a
// guarded mutation. It grants no forward credit: every call re-derives
// the window from the current clock reading.
type Guard struct {
	counter Counter
	clk     clock.Clock
}

// NewGuard creates a Guard over the given counter. A nil clk uses the
// real clock.
func NewGuard(counter Counter, clk clock.Clock) *Guard {
	if clk == nil {
		clk = clock.New()
	}
	return &Guard{counter: counter, clk: clk}
}

// Check fails with ErrRateLimitExceeded once the identity's record count
// for the class inside the trailing window has reached limit.Max.
func (g *Guard) Check(ctx context.Context, class, identity string, limit Limit) error {
	if err := limit.Validate(); err != nil {
		return fmt.Errorf("invalid limit for %s: %w", class, err)
	}

	since := g.clk.Now().Add(-limit.Window)
	count, err := g.counter.CountInWindow(ctx, class, identity, since)
	if err != nil {
		return fmt.Errorf("count %s records for %s: %w", class, identity, err)
	}
	if count >= limit.Max {
		return fmt.Errorf("%w: %d %s records in %s", ErrRateLimitExceeded, count, class, limit.Window)
	}
	return nil
}

// Observe records a completed mutation with the backend, when the
// backend keeps its own records. It is a no-op for counters that derive
// counts from the primary store.
func (g *Guard) Observe(ctx context.Context, class, identity string) error {
	obs, ok := g.counter.(Observer)
	if !ok {
		return nil
	}
	return obs.Observe(ctx, class, identity, g.clk.Now())
}
