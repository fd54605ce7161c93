package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Outcome values stored in QueryRecord.Outcome.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// QueryRecord is one submitted question's metrics. Question and answer text
// are never stored.
type QueryRecord struct {
	ID        string
	CreatedAt time.Time
	Transport string
	TopK      int
	LatencyMs int64
	Outcome   string
	ErrorKind string // empty on success
	RequestID string // backend-assigned id, when returned
	Contexts  int
}

// QueryStats aggregates the query log.
type QueryStats struct {
	Total        int       `json:"total"`
	Failures     int       `json:"failures"`
	AvgLatencyMs float64   `json:"avg_latency_ms"` // over successful queries
	LastAt       time.Time `json:"last_at"`
}
