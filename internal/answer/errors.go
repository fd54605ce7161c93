package answer

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRequest is returned when a query has empty text or a
// non-positive top_k.
var ErrInvalidRequest = errors.New("invalid query request")

// HTTPError is a non-2xx response from the chat or result endpoint.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP Error %d", e.Status)
	}
	return e.Body
}

// ParseError is returned when a response body is not valid JSON or lacks a
// required field.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TimeoutError is returned when the polling budget is exhausted.
type TimeoutError struct {
	Attempts int
	Budget   time.Duration
}

// Error reports whole-second budgets in seconds and anything finer as a
// duration.
func (e *TimeoutError) Error() string {
	if e.Budget == time.Second {
		return "result not ready after 1 second"
	}
	if e.Budget > time.Second && e.Budget%time.Second == 0 {
		return fmt.Sprintf("result not ready after %d seconds", int(e.Budget/time.Second))
	}
	return fmt.Sprintf("result not ready after %s", e.Budget)
}

// NetworkError is a transport-level failure (connection refused, reset,
// context cancelled mid-request).
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// JobFailedError is returned when the backend reports a job as failed.
type JobFailedError struct {
	JobID string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed on the server", e.JobID)
}
