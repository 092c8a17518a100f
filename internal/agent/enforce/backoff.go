package enforce

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Outcome is the tri-state result of one remote refresh attempt. The
// backoff state consumes only this, decoupled from transport details.
type Outcome int

const (
	// OutcomeOK is any non-throttled response.
	OutcomeOK Outcome = iota
	// OutcomeThrottled is an explicit over-quota (429) response.
	OutcomeThrottled
	// OutcomeUnreachable is a transport failure with no response at all.
	OutcomeUnreachable
)

// Backoff holds the exponential-backoff state driven by throttled
// responses: hold = min(base * 2^consecutive, cap). A non-throttled
// response resets the counter; an unreachable attempt leaves it alone,
// since no response carries no rate-limit signal either way.
type Backoff struct {
	exp         *backoff.ExponentialBackOff
	consecutive int
	holdUntil   time.Time
}

// NewBackoff creates backoff state with the given base and cap.
func NewBackoff(base, cap time.Duration) *Backoff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.MaxInterval = cap
	exp.Multiplier = 2
	exp.RandomizationFactor = 0 // deterministic doubling
	exp.MaxElapsedTime = 0      // never give up
	exp.Reset()
	return &Backoff{exp: exp}
}

// Observe feeds one refresh outcome into the state.
func (b *Backoff) Observe(outcome Outcome, now time.Time) {
	switch outcome {
	case OutcomeThrottled:
		b.consecutive++
		b.holdUntil = now.Add(b.exp.NextBackOff())
	case OutcomeOK:
		b.consecutive = 0
		b.holdUntil = time.Time{}
		b.exp.Reset()
	case OutcomeUnreachable:
		// Keep the current hold and counter.
	}
}

// Holding reports whether remote refreshes are currently suspended.
func (b *Backoff) Holding(now time.Time) bool {
	return now.Before(b.holdUntil)
}

// Consecutive returns the number of throttled responses in a row.
func (b *Backoff) Consecutive() int {
	return b.consecutive
}

// HoldUntil returns when the current hold ends; zero when not holding.
func (b *Backoff) HoldUntil() time.Time {
	return b.holdUntil
}
