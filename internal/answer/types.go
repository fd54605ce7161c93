package answer

import (
	"encoding/json"
	"time"
)

// NoAnswerPlaceholder replaces a missing or empty final_answer.
const NoAnswerPlaceholder = "No answer returned by backend."

// QueryRequest is the outbound payload for the chat endpoint.
type QueryRequest struct {
	Text string `json:"text"`
	TopK int    `json:"top_k"`
}

// QueryResponse is the parsed answer. Only FinalAnswer and ContextsUsed are
// guaranteed; the remaining fields are filled when the backend sends them.
type QueryResponse struct {
	FinalAnswer  string
	ContextsUsed []string
	RequestID    string
	Status       string
	Model        string
	Timestamp    string

	// Latency is the wall-clock round trip, informational only.
	Latency time.Duration
}

// JobStatus is the server-reported state of a deferred job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Job identifies a deferred computation on the backend.
type Job struct {
	ID     string
	Status JobStatus
}

// parseResponse decodes a chat or result body. Field types are checked
// loosely: a non-string final_answer falls back to the placeholder and a
// non-list contexts_used becomes empty.
func parseResponse(body []byte) (QueryResponse, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return QueryResponse{}, &ParseError{Err: err}
	}

	resp := QueryResponse{
		FinalAnswer:  stringField(raw, "final_answer"),
		ContextsUsed: listField(raw, "contexts_used"),
		RequestID:    stringField(raw, "request_id"),
		Status:       stringField(raw, "status"),
		Model:        stringField(raw, "model"),
		Timestamp:    stringField(raw, "timestamp"),
	}
	if resp.FinalAnswer == "" {
		resp.FinalAnswer = NoAnswerPlaceholder
	}
	return resp, nil
}

func stringField(raw map[string]json.RawMessage, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

func listField(raw map[string]json.RawMessage, key string) []string {
	v, ok := raw[key]
	if !ok {
		return []string{}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			// Keep non-string entries as their JSON text.
			s = string(item)
		}
		out = append(out, s)
	}
	return out
}
