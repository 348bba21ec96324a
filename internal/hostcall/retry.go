package hostcall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is the retry/backoff schedule for transient host failures.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	// Jitter is the randomization factor applied to each interval.
	Jitter float64
}

var DefaultPolicy = Policy{
	Attempts: 5,
	Initial:  500 * time.Millisecond,
	Max:      4 * time.Second,
	Jitter:   0.05,
}

// backOff builds the doubling schedule for one Do call. It stops after
// Attempts tries or when ctx is done.
func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// ErrNonRetryable marks host answers that another attempt cannot fix.
var ErrNonRetryable = errors.New("non-retryable host response")

// StatusError is a non-200 HTTP answer from a host. Statuses outside the
// transient set unwrap to ErrNonRetryable.
type StatusError struct {
	Host       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Host, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Host, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	if RetryableStatus(e.StatusCode) {
		return nil
	}
	return ErrNonRetryable
}

// RetryableStatus reports whether an HTTP status is worth another attempt.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsTransient is the default classifier: 429/5xx answers and network-level failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return RetryableStatus(se.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
