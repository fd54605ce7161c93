package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultMaxAttempts bounds the number of result requests per job.
	DefaultMaxAttempts = 30
	// DefaultPollInterval is the pause between result requests.
	DefaultPollInterval = time.Second
)

// Poller submits a question as a deferred job and polls the result endpoint
// until the job succeeds, fails, or the attempt budget runs out.
type Poller struct {
	baseURL     string
	submitPath  string
	httpClient  *http.Client
	maxAttempts int
	interval    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithMaxAttempts overrides the attempt budget. Values <= 0 are ignored.
func WithMaxAttempts(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithInterval overrides the pause between attempts. Values <= 0 are ignored.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithSubmitPath overrides the path jobs are submitted to (default /chat).
func WithSubmitPath(path string) PollerOption {
	return func(p *Poller) {
		if path != "" {
			p.submitPath = "/" + strings.TrimLeft(path, "/")
		}
	}
}

// NewPoller creates a Poller for baseURL. A nil httpClient gets a client with
// a 60s timeout.
func NewPoller(baseURL string, httpClient *http.Client, opts ...PollerOption) *Poller {
	p := &Poller{
		baseURL:     normalizeBaseURL(baseURL),
		submitPath:  chatPath,
		httpClient:  newHTTPClient(httpClient),
		maxAttempts: DefaultMaxAttempts,
		interval:    DefaultPollInterval,
		sleep:       sleepContext,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SubmitJob posts the request and returns the job id the backend assigned.
func (p *Poller) SubmitJob(ctx context.Context, req QueryRequest, token string) (string, error) {
	if strings.TrimSpace(req.Text) == "" || req.TopK <= 0 {
		return "", ErrInvalidRequest
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := newRequest(ctx, http.MethodPost, p.baseURL+p.submitPath, bytes.NewReader(body), token)
	if err != nil {
		return "", err
	}

	status, respBody, err := do(p.httpClient, httpReq)
	if err != nil {
		return "", err
	}
	if !isSuccess(status) {
		return "", &HTTPError{Status: status, Body: string(respBody)}
	}

	var ack struct {
		RequestID string `json:"request_id"`
		JobID     string `json:"job_id"`
	}
	if err := json.Unmarshal(respBody, &ack); err != nil {
		return "", &ParseError{Err: err}
	}

	id := ack.RequestID
	if id == "" {
		id = ack.JobID
	}
	if id == "" {
		return "", &ParseError{Err: fmt.Errorf("response has no request_id")}
	}

	p.logger.Debug("job submitted", "job_id", id)
	return id, nil
}

// PollResult requests the job result up to the attempt budget. A 404 means the
// result is not ready; any other non-2xx status ends polling immediately.
func (p *Poller) PollResult(ctx context.Context, jobID, token string) (QueryResponse, error) {
	if jobID == "" {
		return QueryResponse{}, fmt.Errorf("job id is required")
	}

	start := time.Now()
	target := p.baseURL + resultPath + url.PathEscape(jobID)

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		resp, job, err := p.pollOnce(ctx, target, token)
		if err != nil {
			return QueryResponse{}, err
		}

		switch job.Status {
		case JobSuccess:
			resp.Latency = time.Since(start)
			p.logger.Debug("job completed",
				"job_id", jobID,
				"attempts", attempt,
				"latency_ms", resp.Latency.Milliseconds(),
			)
			return resp, nil
		case JobFailed:
			return QueryResponse{}, &JobFailedError{JobID: jobID}
		}

		if attempt < p.maxAttempts {
			if err := p.sleep(ctx, p.interval); err != nil {
				return QueryResponse{}, err
			}
		}
	}

	return QueryResponse{}, &TimeoutError{
		Attempts: p.maxAttempts,
		Budget:   time.Duration(p.maxAttempts) * p.interval,
	}
}

// pollOnce performs a single result request. A not-ready result is reported
// as a pending job with no error.
func (p *Poller) pollOnce(ctx context.Context, target, token string) (QueryResponse, Job, error) {
	req, err := newRequest(ctx, http.MethodGet, target, nil, token)
	if err != nil {
		return QueryResponse{}, Job{}, err
	}

	status, body, err := do(p.httpClient, req)
	if err != nil {
		return QueryResponse{}, Job{}, err
	}

	switch {
	case status == http.StatusNotFound:
		return QueryResponse{}, Job{Status: JobPending}, nil
	case !isSuccess(status):
		return QueryResponse{}, Job{}, &HTTPError{Status: status, Body: string(body)}
	}

	resp, err := parseResponse(body)
	if err != nil {
		return QueryResponse{}, Job{}, err
	}
	return resp, Job{ID: resp.RequestID, Status: JobStatus(resp.Status)}, nil
}

// Answer implements Answerer by submitting a job and polling for its result.
func (p *Poller) Answer(ctx context.Context, req QueryRequest, token string) (QueryResponse, error) {
	start := time.Now()
	id, err := p.SubmitJob(ctx, req, token)
	if err != nil {
		return QueryResponse{}, err
	}
	resp, err := p.PollResult(ctx, id, token)
	if err != nil {
		return QueryResponse{}, err
	}
	resp.Latency = time.Since(start)
	if resp.RequestID == "" {
		resp.RequestID = id
	}
	return resp, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
