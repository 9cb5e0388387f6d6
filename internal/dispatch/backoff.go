package dispatch

import "time"

// Schedule is the fixed backoff lookup table, indexed by attempt number.
// Attempts beyond the table's length reuse the last interval. The schedule is
// deliberately not exponential-with-jitter: a small bounded table keeps
// nextRetryAt deterministic given the attempt count.
type Schedule []time.Duration

// DefaultSchedule matches the default maxAttempts of 4: one immediate
// attempt plus three retries.
func DefaultSchedule() Schedule {
	return Schedule{time.Minute, 5 * time.Minute, 30 * time.Minute}
}

// Delay returns the wait before the next attempt, given how many attempts
// have already been made (1-based).
func (s Schedule) Delay(attempts int) time.Duration {
	if len(s) == 0 {
		return time.Minute
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s) {
		idx = len(s) - 1
	}
	return s[idx]
}

// Span returns the total time a record can spend in the retry queue: the sum
// of the delays for n attempts. Recipients' timestamp tolerance must exceed
// this, since the signed timestamp is fixed at record creation.
func (s Schedule) Span(maxAttempts int) time.Duration {
	var total time.Duration
	for i := 1; i < maxAttempts; i++ {
		total += s.Delay(i)
	}
	return total
}
