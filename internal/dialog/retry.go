package dialog

import "time"

// RetryPolicy is the retransmission schedule for an unanswered INVITE.
// The peer hardware normally answers the first attempt; the schedule is
// a tunable, not a correctness requirement.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Multiplier  float64
	Cap         time.Duration
}

// DefaultRetryPolicy: 4 attempts, 500ms initial, doubling, capped at 4s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 4,
	Initial:     500 * time.Millisecond,
	Multiplier:  2,
	Cap:         4 * time.Second,
}

// Interval returns the wait after the given zero-based attempt.
func (p RetryPolicy) Interval(attempt int) time.Duration {
	d := p.Initial
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}
