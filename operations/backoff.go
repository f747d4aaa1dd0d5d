package operations

import "time"

const (
	// DefaultBackoffBase is the delay before the first re-attempt of an operation.
	DefaultBackoffBase = 5 * time.Second
	// DefaultBackoffMax caps the delay between two attempts of an operation.
	DefaultBackoffMax = time.Hour
)

// BackoffPolicy computes the delay before the next attempt of an operation from the number of
// attempts it already made. The delay doubles with every attempt: Base, 2*Base, 4*Base, ... and
// never exceeds Max.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoffPolicy returns the policy used when none is configured.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Base: DefaultBackoffBase, Max: DefaultBackoffMax}
}

// Delay returns the delay before the attempt following the given number of attempts.
func (p BackoffPolicy) Delay(attempts uint32) time.Duration {
	if p.Base <= 0 {
		return 0
	}

	delay := p.Base
	for range attempts {
		if delay >= p.Max/2 {
			return p.Max
		}
		delay *= 2
	}

	return min(delay, p.Max)
}
