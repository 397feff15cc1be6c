package feed

import (
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrReconnectExhausted is reported once the attempt cap is reached. The
// feed stays Closed until Connect is called again.
var ErrReconnectExhausted = errors.New("upstream reconnect attempts exhausted")

// TransportError wraps a dial, handshake, read or write failure.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// newBackoff yields min(base*2^attempt, max), stopping after maxAttempts
// delays when maxAttempts > 0.
func newBackoff(base, max time.Duration, maxAttempts int) retry.Backoff {
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(max, b)
	if maxAttempts > 0 {
		b = retry.WithMaxRetries(uint64(maxAttempts), b)
	}
	return b
}

// Scheduler runs fn once after d and returns a cancel func. Tests replace it
// to observe and fire reconnect timers by hand.
type Scheduler func(d time.Duration, fn func()) (cancel func())

func afterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
