package answer

import (
	"context"
	"fmt"
	"net/http"
)

// Transport names accepted by New.
const (
	TransportSync = "sync"
	TransportJob  = "job"
)

// Answerer turns a question into an answer. Dispatcher answers in a single
// exchange; Poller submits a job and polls for it.
type Answerer interface {
	Answer(ctx context.Context, req QueryRequest, token string) (QueryResponse, error)
}

var (
	_ Answerer = (*Dispatcher)(nil)
	_ Answerer = (*Poller)(nil)
)

// New returns the Answerer for the named transport.
func New(transport, baseURL string, httpClient *http.Client, pollOpts ...PollerOption) (Answerer, error) {
	switch transport {
	case "", TransportSync:
		return NewDispatcher(baseURL, httpClient), nil
	case TransportJob:
		return NewPoller(baseURL, httpClient, pollOpts...), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want %q or %q)", transport, TransportSync, TransportJob)
	}
}
