package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Dispatcher sends a query to the chat endpoint and waits for the answer in
// the same HTTP exchange.
type Dispatcher struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDispatcher creates a Dispatcher for baseURL. A nil httpClient gets a
// client with a 60s timeout.
func NewDispatcher(baseURL string, httpClient *http.Client) *Dispatcher {
	return &Dispatcher{
		baseURL:    normalizeBaseURL(baseURL),
		httpClient: newHTTPClient(httpClient),
		logger:     slog.Default(),
	}
}

// SendQuery posts {text, top_k} with the bearer token and parses the answer.
func (d *Dispatcher) SendQuery(ctx context.Context, text string, topK int, token string) (QueryResponse, error) {
	if strings.TrimSpace(text) == "" || topK <= 0 {
		return QueryResponse{}, ErrInvalidRequest
	}

	start := time.Now()

	body, err := json.Marshal(QueryRequest{Text: text, TopK: topK})
	if err != nil {
		return QueryResponse{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := newRequest(ctx, http.MethodPost, d.baseURL+chatPath, bytes.NewReader(body), token)
	if err != nil {
		return QueryResponse{}, err
	}

	status, respBody, err := do(d.httpClient, req)
	if err != nil {
		return QueryResponse{}, err
	}
	if !isSuccess(status) {
		return QueryResponse{}, &HTTPError{Status: status, Body: string(respBody)}
	}

	resp, err := parseResponse(respBody)
	if err != nil {
		return QueryResponse{}, err
	}
	resp.Latency = time.Since(start)

	d.logger.Debug("query answered",
		"request_id", resp.RequestID,
		"contexts", len(resp.ContextsUsed),
		"latency_ms", resp.Latency.Milliseconds(),
	)
	return resp, nil
}

// Answer implements Answerer.
func (d *Dispatcher) Answer(ctx context.Context, req QueryRequest, token string) (QueryResponse, error) {
	return d.SendQuery(ctx, req.Text, req.TopK, token)
}
