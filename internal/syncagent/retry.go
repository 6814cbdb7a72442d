package syncagent

import "time"

const (
	DefaultRetryDelay       = 3 * time.Second
	DefaultMaxRetryAttempts = 5
)

// Retryer decides whether another connection attempt is made after failed
// consecutive failures, and how long to wait before it.
type Retryer interface {
	Next(failed int) (time.Duration, bool)
}

// FixedDelay retries after the same delay until MaxAttempts attempts have
// failed.
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

func DefaultRetryer() FixedDelay {
	return FixedDelay{Delay: DefaultRetryDelay, MaxAttempts: DefaultMaxRetryAttempts}
}

func (f FixedDelay) Next(failed int) (time.Duration, bool) {
	if failed >= f.MaxAttempts {
		return 0, false
	}

	return f.Delay, true
}
