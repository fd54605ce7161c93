package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kalambet/socq/internal/answer"
	"github.com/kalambet/socq/internal/auth"
)

func TestDescribeAndKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantDesc string
		wantKind string
	}{
		{"nil", nil, "", ""},
		{"no session", auth.ErrNoSession, AuthMessage, KindAuth},
		{"wrapped no session", fmt.Errorf("acquiring token: %w", auth.ErrNoSession), AuthMessage, KindAuth},
		{"http with body", &answer.HTTPError{Status: 403, Body: "forbidden"}, "forbidden", KindHTTP},
		{"http without body", &answer.HTTPError{Status: 500}, "HTTP Error 500", KindHTTP},
		{"timeout", &answer.TimeoutError{Attempts: 30, Budget: 30 * time.Second}, "result not ready after 30 seconds", KindTimeout},
		{"parse", &answer.ParseError{Err: errors.New("unexpected EOF")}, "parsing response: unexpected EOF", KindParse},
		{"job failed", &answer.JobFailedError{JobID: "j1"}, "job j1 failed on the server", KindJobFailed},
		{"network", &answer.NetworkError{Method: "POST", URL: "http://x/chat", Err: errors.New("connection refused")}, "POST http://x/chat: connection refused", KindNetwork},
		{"canceled", &answer.NetworkError{Method: "GET", URL: "http://x/result/1", Err: context.Canceled}, "GET http://x/result/1: context canceled", KindCanceled},
		{"other", errors.New("something odd"), "something odd", KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantDesc, Describe(tt.err))
			assert.Equal(t, tt.wantKind, Kind(tt.err))
		})
	}
}

func TestFailureText(t *testing.T) {
	assert.Equal(t, "Request failed.\n\nError: HTTP Error 404", failureText(&answer.HTTPError{Status: 404}))
}

func TestMapReferences(t *testing.T) {
	assert.Equal(t, []Reference{
		{Label: "Context 1", Content: "Phishing playbook step 1", Score: 1.0},
		{Label: "Context 2", Content: "Email quarantine", Score: 1.0},
	}, MapReferences([]string{"Phishing playbook step 1", "Email quarantine"}))

	assert.Empty(t, MapReferences(nil))
	assert.NotNil(t, MapReferences(nil))
}
