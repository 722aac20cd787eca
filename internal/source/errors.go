package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// TransientError marks a fetch failure worth retrying: timeouts, 429, 5xx.
// RetryAfter is non-zero when the provider supplied a Retry-After hint.
type TransientError struct {
	Source     string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient failure (status %d): %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a fetch failure that retrying cannot fix: bad
// credentials, malformed requests, any 4xx other than 429.
type PermanentError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: permanent failure (status %d): %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: permanent failure: %v", e.Source, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a TransientError anywhere in its chain.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err carries a PermanentError anywhere in its chain.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ClassifyStatus maps an HTTP response status to the error taxonomy.
// 429 and 5xx are transient, every other 4xx is permanent. retryAfter is the
// raw Retry-After header value, seconds only.
func ClassifyStatus(src string, status int, retryAfter string, err error) error {
	if err == nil {
		err = fmt.Errorf("unexpected status %d", status)
	}
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		te := &TransientError{Source: src, StatusCode: status, Err: err}
		if secs, parseErr := strconv.Atoi(retryAfter); parseErr == nil && secs > 0 {
			te.RetryAfter = time.Duration(secs) * time.Second
		}
		return te
	case status >= 400:
		return &PermanentError{Source: src, StatusCode: status, Err: err}
	default:
		return &TransientError{Source: src, StatusCode: status, Err: err}
	}
}

// ClassifyTransport maps a transport-level error: context expiry and network
// failures are transient by the taxonomy (timeouts are retryable).
func ClassifyTransport(src string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		// Caller-initiated cancellation is not a provider fault; surface it
		// unchanged so the pipeline can mark the query skipped.
		return err
	}
	return &TransientError{Source: src, Err: err}
}
