package httpx

import "time"

// BackoffPolicy describes exponential backoff: Base * Factor^n, capped at Max,
// for at most MaxAttempts attempts in total.
type BackoffPolicy struct {
	Base        time.Duration
	Factor      float64
	Max         time.Duration
	MaxAttempts int
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Base: time.Second, Factor: 2, Max: 16 * time.Second, MaxAttempts: 3}
}

// Backoff is the retry state. Attempt counts attempts already made.
type Backoff struct {
	Attempt   int
	NextDelay time.Duration
}

// Start is the state before the first attempt.
func (p BackoffPolicy) Start() Backoff {
	return Backoff{Attempt: 0, NextDelay: p.Base}
}

// Next records one failed attempt and returns the new state plus whether
// another attempt is allowed. The delay to wait before that attempt is the
// returned state's previous NextDelay, exposed as Wait.
func (p BackoffPolicy) Next(b Backoff) (next Backoff, wait time.Duration, ok bool) {
	attempt := b.Attempt + 1
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if attempt >= maxAttempts {
		return Backoff{Attempt: attempt, NextDelay: 0}, 0, false
	}
	wait = b.NextDelay
	if wait <= 0 {
		wait = p.Base
	}
	if p.Max > 0 && wait > p.Max {
		wait = p.Max
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	delay := time.Duration(float64(wait) * factor)
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return Backoff{Attempt: attempt, NextDelay: delay}, wait, true
}
