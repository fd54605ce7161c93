// Package api serves a conversation over a local HTTP API, a WebSocket
// event stream and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/socq/internal/conversation"
	"github.com/kalambet/socq/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Conversation is the part of *conversation.Store the API drives.
type Conversation interface {
	Snapshot() conversation.Snapshot
	References() []conversation.Reference
	StartText(ctx context.Context, text string) (<-chan conversation.Turn, error)
	SubmitText(ctx context.Context, text string) (conversation.Turn, error)
	Subscribe(fn func(conversation.Event)) (unsubscribe func())
}

// QueryLog exposes the recorded query metrics.
type QueryLog interface {
	Stats() (storage.QueryStats, error)
	RecentQueries(limit int) ([]storage.QueryRecord, error)
}

var _ Conversation = (*conversation.Store)(nil)

type AppDeps struct {
	Conversation Conversation
	Log          QueryLog // optional
	Token        string
	Hub          *Hub // optional; /ws is not routed without it

	// Context bounds queries started by HTTP requests, which outlive the
	// request that started them. Defaults to context.Background().
	Context context.Context
	Logger  *slog.Logger
}

func (d AppDeps) ctx() context.Context {
	if d.Context != nil {
		return d.Context
	}
	return context.Background()
}

func (d AppDeps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewAppHandler returns the local API. /health is open; everything else
// requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/conversation", handleGetConversation(deps))
		r.Post("/conversation/messages", handlePostMessage(deps))
		r.Get("/conversation.html", handleTranscript(deps))
		r.Get("/references", handleReferences(deps))
		r.Get("/queries", handleListQueries(deps))
		if deps.Hub != nil {
			r.Get("/ws", deps.Hub.ServeHTTP)
		}
	})

	return r
}

type healthResponse struct {
	Status   string                 `json:"status"`
	State    conversation.SendState `json:"state"`
	Messages int                    `json:"messages"`
	Queries  *storage.QueryStats    `json:"queries,omitempty"`
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Conversation.Snapshot()
		resp := healthResponse{
			Status:   "ok",
			State:    snap.State,
			Messages: len(snap.Messages),
		}
		if deps.Log != nil {
			if stats, err := deps.Log.Stats(); err == nil {
				resp.Queries = &stats
			} else {
				deps.logger().Warn("reading query stats", "error", err)
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleGetConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Conversation.Snapshot())
	}
}

func handleReferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Conversation.References())
	}
}

type postMessageRequest struct {
	Text string `json:"text"`
}

// TurnResponse is the JSON form of a finished turn.
type TurnResponse struct {
	Question   conversation.Message     `json:"question"`
	Reply      conversation.Message     `json:"reply"`
	References []conversation.Reference `json:"references"`
	LatencyMs  int64                    `json:"latency_ms"`
	ErrorKind  string                   `json:"error_kind,omitempty"`
}

func newTurnResponse(t conversation.Turn) TurnResponse {
	return TurnResponse{
		Question:   t.Question,
		Reply:      t.Reply,
		References: t.References,
		LatencyMs:  t.Latency.Milliseconds(),
		ErrorKind:  conversation.Kind(t.Err),
	}
}

// handlePostMessage starts a query and answers 202 without waiting for it.
// With ?wait=true it blocks until the turn finishes and answers 200.
func handlePostMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req postMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		done, err := deps.Conversation.StartText(deps.ctx(), req.Text)
		switch {
		case errors.Is(err, conversation.ErrBusy):
			httpError(w, http.StatusConflict, "busy", "a query is already in flight")
			return
		case errors.Is(err, conversation.ErrEmptyInput):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		switch r.URL.Query().Get("wait") {
		case "1", "true":
			select {
			case turn := <-done:
				writeJSON(w, http.StatusOK, newTurnResponse(turn))
			case <-r.Context().Done():
			}
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"state": conversation.StateSending,
		})
	}
}

func handleTranscript(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := RenderTranscript(deps.Conversation.Snapshot())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "rendering transcript: %v", err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	}
}

type queryRecordResponse struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Transport string `json:"transport"`
	TopK      int    `json:"top_k"`
	LatencyMs int64  `json:"latency_ms"`
	Outcome   string `json:"outcome"`
	ErrorKind string `json:"error_kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Contexts  int    `json:"contexts"`
}

func handleListQueries(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Log == nil {
			httpError(w, http.StatusNotFound, "not_found", "query log is disabled")
			return
		}
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", v)
				return
			}
			limit = n
			if limit > 500 {
				limit = 500
			}
		}

		records, err := deps.Log.RecentQueries(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing queries: %v", err)
			return
		}
		out := make([]queryRecordResponse, len(records))
		for i, q := range records {
			out[i] = queryRecordResponse{
				ID:        q.ID,
				CreatedAt: q.CreatedAt.UTC().Format(time.RFC3339),
				Transport: q.Transport,
				TopK:      q.TopK,
				LatencyMs: q.LatencyMs,
				Outcome:   q.Outcome,
				ErrorKind: q.ErrorKind,
				RequestID: q.RequestID,
				Contexts:  q.Contexts,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
