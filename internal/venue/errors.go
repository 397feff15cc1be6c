package venue

import (
	"errors"
	"fmt"
)

// ErrNormalization marks a wire message that did not produce a trade.
// Callers drop such messages; they are never surfaced to users.
var ErrNormalization = errors.New("normalization failed")

// NormalizationError carries the venue and reason for a rejected message.
type NormalizationError struct {
	Exchange string
	Reason   string
	Err      error
}

func (e *NormalizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", ErrNormalization, e.Exchange, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", ErrNormalization, e.Exchange, e.Reason)
}

func (e *NormalizationError) Is(target error) bool {
	return target == ErrNormalization
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// Failf builds a NormalizationError with a formatted reason.
func Failf(exchange, format string, args ...any) error {
	return &NormalizationError{Exchange: exchange, Reason: fmt.Sprintf(format, args...)}
}

// Wrap builds a NormalizationError around a lower level cause.
func Wrap(exchange, reason string, err error) error {
	return &NormalizationError{Exchange: exchange, Reason: reason, Err: err}
}
