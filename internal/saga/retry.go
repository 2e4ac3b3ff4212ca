package saga

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how often and how fast a failing action is retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter spreads each wait by ±Jitter (0 to 1) of its value.
	Jitter float64
}

// DefaultRetryPolicy is three attempts starting at 100ms, capped at 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
	}
}

// NoRetry runs an action exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff > 0 && p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	p.Jitter = math.Max(0, math.Min(1, p.Jitter))
	return p
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 || p.InitialBackoff == 0 {
		return 0
	}

	wait := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxBackoff > 0 && wait > float64(p.MaxBackoff) {
		wait = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		wait += wait * p.Jitter * (2*rand.Float64() - 1) // #nosec G404 -- jitter only
	}
	return time.Duration(wait)
}
