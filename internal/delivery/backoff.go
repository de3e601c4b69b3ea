package delivery

import "time"

// DefaultBaseDelay is the delay before the first retry; subsequent retries
// double it per attempt already made.
const DefaultBaseDelay = 60 * time.Second

// maxBackoffShift caps exponential growth so the delay stays bounded even
// for generous retry budgets (base * 2^10 ≈ 17h at the default base).
const maxBackoffShift = 10

// Backoff returns the delay before the next attempt given the number of
// attempts already made: attempt 1 retries after base, attempt 2 after
// 2*base, and so on.
func Backoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	shift := attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return base << uint(shift)
}
