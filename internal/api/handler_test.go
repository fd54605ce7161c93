package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/socq/internal/answer"
	"github.com/kalambet/socq/internal/conversation"
)

const testToken = "local-secret"

func newTestServer(t *testing.T, a answer.Answerer) (*httptest.Server, *conversation.Store) {
	t.Helper()
	conv, store := newTestConversation(t, a)
	srv := httptest.NewServer(NewAppHandler(AppDeps{
		Conversation: conv,
		Log:          store,
		Token:        testToken,
	}))
	t.Cleanup(srv.Close)
	return srv, conv
}

func doRequest(t *testing.T, method, url, body string, token string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth_NoAuth(t *testing.T) {
	srv, _ := newTestServer(t, fixedAnswer("a"))

	resp := doRequest(t, http.MethodGet, srv.URL+"/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status   string `json:"status"`
		State    string `json:"state"`
		Messages int    `json:"messages"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Status != "ok" || body.State != "idle" || body.Messages != 1 {
		t.Errorf("health = %+v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, fixedAnswer("a"))

	for _, path := range []string{"/conversation", "/references", "/conversation.html", "/queries"} {
		if resp := doRequest(t, http.MethodGet, srv.URL+path, "", ""); resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s without token = %d, want 401", path, resp.StatusCode)
		}
		if resp := doRequest(t, http.MethodGet, srv.URL+path, "", "wrong"); resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s with wrong token = %d, want 401", path, resp.StatusCode)
		}
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/conversation?access_token="+testToken, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("access_token query = %d, want 200", resp.StatusCode)
	}
}

func TestPostMessage_Wait(t *testing.T) {
	srv, conv := newTestServer(t, fixedAnswer("Isolate the host", "Playbook A"))

	resp := doRequest(t, http.MethodPost, srv.URL+"/conversation/messages?wait=true", `{"text":"How do we contain a phishing attack?"}`, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var turn TurnResponse
	if err := json.NewDecoder(resp.Body).Decode(&turn); err != nil {
		t.Fatal(err)
	}
	if turn.Reply.Text != "Isolate the host" {
		t.Errorf("reply = %q", turn.Reply.Text)
	}
	if turn.Question.Role != conversation.RoleUser {
		t.Errorf("question role = %q", turn.Question.Role)
	}
	if len(turn.References) != 1 || turn.References[0].Label != "Context 1" {
		t.Errorf("references = %+v", turn.References)
	}
	if turn.ErrorKind != "" {
		t.Errorf("error_kind = %q, want empty", turn.ErrorKind)
	}

	if got := len(conv.Messages()); got != 3 {
		t.Errorf("messages = %d, want 3", got)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/references", "", testToken)
	var refs []conversation.Reference
	json.NewDecoder(resp.Body).Decode(&refs)
	if len(refs) != 1 || refs[0].Content != "Playbook A" {
		t.Errorf("GET /references = %+v", refs)
	}
}

func TestPostMessage_Accepted(t *testing.T) {
	release := make(chan struct{})
	srv, conv := newTestServer(t, answerFunc(func(ctx context.Context, req answer.QueryRequest, token string) (answer.QueryResponse, error) {
		<-release
		return answer.QueryResponse{FinalAnswer: "done", ContextsUsed: []string{}}, nil
	}))
	defer close(release)

	resp := doRequest(t, http.MethodPost, srv.URL+"/conversation/messages", `{"text":"first"}`, testToken)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if conv.State() != conversation.StateSending {
		t.Errorf("state = %v, want sending", conv.State())
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/conversation/messages", `{"text":"second"}`, testToken)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second post = %d, want 409", resp.StatusCode)
	}

	if got := len(conv.Messages()); got != 2 {
		t.Errorf("messages = %d, want 2 (rejected post adds nothing)", got)
	}
}

func TestPostMessage_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, fixedAnswer("a"))

	tests := []struct {
		name string
		body string
	}{
		{"empty text", `{"text":"   "}`},
		{"missing text", `{}`},
		{"invalid json", `{"text":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, srv.URL+"/conversation/messages", tt.body, testToken)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestGetConversation(t *testing.T) {
	srv, _ := newTestServer(t, fixedAnswer("a"))

	resp := doRequest(t, http.MethodGet, srv.URL+"/conversation", "", testToken)
	var snap struct {
		Messages []conversation.Message `json:"messages"`
		State    string                 `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Text != conversation.WelcomeText {
		t.Errorf("messages = %+v", snap.Messages)
	}
	if snap.State != "idle" {
		t.Errorf("state = %q, want idle", snap.State)
	}
}

func TestTranscript(t *testing.T) {
	srv, conv := newTestServer(t, fixedAnswer("Use **EDR** to isolate", "Ransomware runbook"))
	if _, err := conv.SubmitText(context.Background(), "<script>alert(1)</script> ransomware?"); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/conversation.html", "", testToken)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	page := string(data)

	if !strings.Contains(page, "<strong>EDR</strong>") {
		t.Error("markdown in answer not rendered")
	}
	if strings.Contains(page, "<script>alert(1)</script>") {
		t.Error("raw html from message rendered")
	}
	if !strings.Contains(page, "Ransomware runbook") {
		t.Error("references missing")
	}
}

func TestListQueries(t *testing.T) {
	srv, conv := newTestServer(t, fixedAnswer("a"))
	for _, q := range []string{"one", "two"} {
		if _, err := conv.SubmitText(context.Background(), q); err != nil {
			t.Fatal(err)
		}
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/queries?limit=1", "", testToken)
	var records []queryRecordResponse
	json.NewDecoder(resp.Body).Decode(&records)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].RequestID != "req-1" || records[0].Outcome != "success" {
		t.Errorf("record = %+v", records[0])
	}

	if resp := doRequest(t, http.MethodGet, srv.URL+"/queries?limit=x", "", testToken); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", resp.StatusCode)
	}
}
