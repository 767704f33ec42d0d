// Package wait polls conditions in the integration harness.
package wait

import (
	"errors"
	"time"
)

// PollInterval is the delay between two attempts of NoError and Predicate.
const PollInterval = 200 * time.Millisecond

// ErrTimeout is returned by Predicate when the condition never held.
var ErrTimeout = errors.New("condition not met before the deadline")

// Poller retries a check at a fixed interval.
type Poller struct {
	// Interval is the delay between two attempts.
	Interval time.Duration
}

// Until runs check until it returns nil or timeout has passed, returning the
// last error of check on timeout. The first attempt is immediate. A check
// that blocks is not interrupted and may overrun the timeout.
func (p Poller) Until(check func() error, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	retry := time.NewTicker(p.Interval)
	defer retry.Stop()

	for {
		err := check()
		if err == nil {
			return nil
		}

		select {
		case <-deadline.C:
			return err

		case <-retry.C:
		}
	}
}

// NoError polls f at PollInterval until it returns nil or timeout passes.
func NoError(f func() error, timeout time.Duration) error {
	return Poller{Interval: PollInterval}.Until(f, timeout)
}

// Predicate polls pred at PollInterval until it holds, failing with
// ErrTimeout once timeout passes.
func Predicate(pred func() bool, timeout time.Duration) error {
	return NoError(func() error {
		if pred() {
			return nil
		}

		return ErrTimeout
	}, timeout)
}
