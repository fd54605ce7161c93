package conversation

import (
	"context"
	"errors"

	"github.com/kalambet/socq/internal/answer"
	"github.com/kalambet/socq/internal/auth"
)

// AuthMessage is shown when no signed-in session could produce a token.
const AuthMessage = "User not authenticated. Please sign in again."

// Error kinds recorded in the query log.
const (
	KindAuth      = "auth"
	KindHTTP      = "http"
	KindParse     = "parse"
	KindTimeout   = "timeout"
	KindNetwork   = "network"
	KindJobFailed = "job_failed"
	KindCanceled  = "canceled"
	KindOther     = "other"
)

// Describe turns a pipeline failure into the text shown to the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var (
		httpErr    *answer.HTTPError
		timeoutErr *answer.TimeoutError
	)
	switch {
	case errors.Is(err, auth.ErrNoSession):
		return AuthMessage
	case errors.As(err, &httpErr):
		return httpErr.Error()
	case errors.As(err, &timeoutErr):
		return timeoutErr.Error()
	default:
		return err.Error()
	}
}

// Kind names the taxonomy bucket of err.
func Kind(err error) string {
	var (
		httpErr    *answer.HTTPError
		parseErr   *answer.ParseError
		timeoutErr *answer.TimeoutError
		netErr     *answer.NetworkError
		jobErr     *answer.JobFailedError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, auth.ErrNoSession):
		return KindAuth
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.As(err, &httpErr):
		return KindHTTP
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &jobErr):
		return KindJobFailed
	case errors.As(err, &netErr):
		return KindNetwork
	default:
		return KindOther
	}
}

// failureText is the assistant turn appended when a submission fails.
func failureText(err error) string {
	return "Request failed.\n\nError: " + Describe(err)
}
