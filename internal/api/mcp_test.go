package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/socq/internal/answer"
	"github.com/kalambet/socq/internal/auth"
	"github.com/kalambet/socq/internal/conversation"
	"github.com/kalambet/socq/internal/storage"
)

// --- fakes ---

type answerFunc func(ctx context.Context, req answer.QueryRequest, token string) (answer.QueryResponse, error)

func (f answerFunc) Answer(ctx context.Context, req answer.QueryRequest, token string) (answer.QueryResponse, error) {
	return f(ctx, req, token)
}

func fixedAnswer(text string, contexts ...string) answerFunc {
	return func(ctx context.Context, req answer.QueryRequest, token string) (answer.QueryResponse, error) {
		return answer.QueryResponse{FinalAnswer: text, ContextsUsed: append([]string{}, contexts...), RequestID: "req-1"}, nil
	}
}

// --- helpers ---

func newTestConversation(t *testing.T, a answer.Answerer) (*conversation.Store, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	conv := conversation.New(conversation.Deps{
		Tokens:   auth.NewStaticProvider("tok"),
		Answerer: a,
		TopK:     3,
		Log:      store,
		Now:      func() time.Time { return time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC) },
	})
	return conv, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_Ask(t *testing.T) {
	conv, _ := newTestConversation(t, fixedAnswer("Isolate the mailbox", "Phishing playbook"))
	handler := mcpAsk(MCPDeps{Conversation: conv})

	result, err := handler(context.Background(), makeCallToolRequest("ask_soc", map[string]interface{}{
		"question": "How do we contain a phishing attack?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	if !strings.HasPrefix(text, "Isolate the mailbox") {
		t.Errorf("text = %q, want answer first", text)
	}
	if !strings.Contains(text, "[Context 1] Phishing playbook") {
		t.Errorf("text = %q, want reference", text)
	}

	msgs := conv.Messages()
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
}

func TestMCPTool_Ask_MissingQuestion(t *testing.T) {
	conv, _ := newTestConversation(t, fixedAnswer("x"))
	handler := mcpAsk(MCPDeps{Conversation: conv})

	result, err := handler(context.Background(), makeCallToolRequest("ask_soc", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}

func TestMCPTool_Ask_BackendFailure(t *testing.T) {
	conv, _ := newTestConversation(t, answerFunc(func(ctx context.Context, req answer.QueryRequest, token string) (answer.QueryResponse, error) {
		return answer.QueryResponse{}, &answer.HTTPError{Status: 503, Body: "maintenance"}
	}))
	handler := mcpAsk(MCPDeps{Conversation: conv})

	result, err := handler(context.Background(), makeCallToolRequest("ask_soc", map[string]interface{}{
		"question": "q",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if got := toolText(t, result); got != "Request failed.\n\nError: maintenance" {
		t.Errorf("text = %q", got)
	}
}

func TestMCPTool_QueryStats(t *testing.T) {
	conv, store := newTestConversation(t, fixedAnswer("a"))
	if _, err := conv.SubmitText(context.Background(), "q1"); err != nil {
		t.Fatal(err)
	}

	handler := mcpQueryStats(MCPDeps{Conversation: conv, Log: store})
	result, err := handler(context.Background(), makeCallToolRequest("query_stats", map[string]interface{}{
		"recent": 5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var got struct {
		Total  int `json:"total"`
		Recent []struct {
			Outcome string `json:"outcome"`
		} `json:"recent"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("parsing result: %v", err)
	}
	if got.Total != 1 {
		t.Errorf("total = %d, want 1", got.Total)
	}
	if len(got.Recent) != 1 || got.Recent[0].Outcome != storage.OutcomeSuccess {
		t.Errorf("recent = %+v", got.Recent)
	}
}

func TestMCPTool_QueryStats_NoLog(t *testing.T) {
	conv, _ := newTestConversation(t, fixedAnswer("a"))
	result, err := mcpQueryStats(MCPDeps{Conversation: conv})(context.Background(), makeCallToolRequest("query_stats", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}

func TestMCPResource_Messages(t *testing.T) {
	conv, _ := newTestConversation(t, fixedAnswer("a", "ctx"))
	if _, err := conv.SubmitText(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	deps := MCPDeps{Conversation: conv}

	contents, err := mcpResourceMessages(deps)(context.Background(), makeReadResourceRequest("conversation://messages"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)
	var msgs []conversation.Message
	if err := json.Unmarshal([]byte(tc.Text), &msgs); err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(msgs) != 3 || msgs[1].Text != "q" || msgs[2].Text != "a" {
		t.Errorf("messages = %+v", msgs)
	}

	contents, err = mcpResourceReferences(deps)(context.Background(), makeReadResourceRequest("conversation://references"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc = contents[0].(mcp.TextResourceContents)
	if tc.Text != `[{"label":"Context 1","content":"ctx","score":1}]` {
		t.Errorf("references = %s", tc.Text)
	}
}

func TestNewMCPServer_Registers(t *testing.T) {
	conv, _ := newTestConversation(t, fixedAnswer("a"))
	if s := NewMCPServer(MCPDeps{Conversation: conv}); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
