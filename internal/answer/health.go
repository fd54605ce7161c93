package answer

import (
	"context"
	"encoding/json"
	"net/http"
)

// Health is the backend's /health report.
type Health struct {
	Status            string `json:"status"`
	ActiveRequests    int    `json:"active_requests"`
	CompletedRequests int    `json:"completed_requests"`
}

// CheckHealth queries {baseURL}/health. The endpoint is unauthenticated.
func CheckHealth(ctx context.Context, baseURL string, httpClient *http.Client) (Health, error) {
	req, err := newRequest(ctx, http.MethodGet, normalizeBaseURL(baseURL)+"/health", nil, "")
	if err != nil {
		return Health{}, err
	}

	status, body, err := do(newHTTPClient(httpClient), req)
	if err != nil {
		return Health{}, err
	}
	if !isSuccess(status) {
		return Health{}, &HTTPError{Status: status, Body: string(body)}
	}

	var h Health
	if err := json.Unmarshal(body, &h); err != nil {
		return Health{}, &ParseError{Err: err}
	}
	return h, nil
}
