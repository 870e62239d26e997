package httpclient

import (
	"fmt"
	"time"
)

// RetryableError reports an exhausted retry budget along with the delay the
// caller would have waited next. Callers treat it as fatal for the current
// backend call.
type RetryableError struct {
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
