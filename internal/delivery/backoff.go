package delivery

import "time"

// Backoff computes retry delays for failed deliveries. The schedule is
// deterministic: base doubled per attempt, capped, no jitter, so a
// message's next attempt time can be predicted and asserted on.
type Backoff struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

// DefaultBackoff retries for roughly a day and a half before giving up:
// 1m, 2m, 4m, ... capped at 6h, ten attempts total.
var DefaultBackoff = Backoff{
	Base:       time.Minute,
	Cap:        6 * time.Hour,
	MaxRetries: 10,
}

// Delay returns the wait before the given attempt. retryCount is the
// number of failures so far, so the first retry (retryCount 1) waits
// one base interval.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		return 0
	}
	d := b.Base
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// NextAttempt returns when a message that just failed for the
// retryCount-th time should be tried again.
func (b Backoff) NextAttempt(now time.Time, retryCount int) time.Time {
	return now.Add(b.Delay(retryCount))
}

// Exhausted reports whether the retry budget is spent.
func (b Backoff) Exhausted(retryCount int) bool {
	return retryCount >= b.MaxRetries
}
