package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/poiesic/baler/retry"
)

var (
	// ErrMalformedResponse indicates the backend answered with an unexpected envelope.
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrNoCredentials indicates no usable credential could be obtained.
	ErrNoCredentials = errors.New("no credentials available")

	// ErrUnsupportedProvider indicates an unknown provider or embedder kind.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// StatusError is a non-2xx answer from a model backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// Classify maps a backend failure to a retry action.
//
//   - 401, 403: refresh credentials, then retry
//   - 429 and 5xx: exponential backoff
//   - network failures: exponential backoff
//   - anything else: stop
func Classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}

	var status *StatusError
	if errors.As(err, &status) {
		return ClassifyStatus(status.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Backoff
	}

	return retry.Stop
}

// ClassifyStatus maps an HTTP status code to a retry action.
func ClassifyStatus(code int) retry.Action {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return retry.Refresh
	case code == http.StatusTooManyRequests:
		return retry.Backoff
	case code >= 500:
		return retry.Backoff
	default:
		return retry.Stop
	}
}
