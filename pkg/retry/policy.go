package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrMaxRetriesExceeded is returned when all attempts are exhausted.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy controls retry behaviour.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	Jitter        float64 // fraction of the delay randomized, 0..1
	RetryableFunc func(error) bool
}

// DefaultPolicy matches the outbound-call defaults: five attempts with
// exponential backoff starting at two seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   4,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Validate checks the policy for usable values.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("max retries must be non-negative")
	}
	if p.InitialDelay <= 0 {
		return errors.New("initial delay must be positive")
	}
	if p.Multiplier < 1.0 {
		return errors.New("multiplier must be at least 1.0")
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return errors.New("jitter must be between 0 and 1")
	}
	return nil
}

// Backoff computes delays for successive attempts.
type Backoff struct {
	policy Policy
}

// NewBackoff creates a backoff calculator for the given policy.
func NewBackoff(policy Policy) *Backoff {
	return &Backoff{policy: policy}
}

// Calculate returns the delay before the given attempt (1-based).
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.policy.InitialDelay) * math.Pow(b.policy.Multiplier, float64(attempt-1))
	if max := float64(b.policy.MaxDelay); b.policy.MaxDelay > 0 && delay > max {
		delay = max
	}

	if b.policy.Jitter > 0 {
		spread := delay * b.policy.Jitter
		delay = delay - spread/2 + rand.Float64()*spread
	}

	return time.Duration(delay)
}
