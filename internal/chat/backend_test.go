package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ppiankov/archeck/internal/guardrail"
	"github.com/ppiankov/archeck/internal/reasoning"
)

const (
	validDoc   = `{"action":"NONE","assessments":[{"automatedReasoningPolicy":{"findings":[{"valid":{}}]}}]}`
	invalidDoc = `{"action":"GUARDRAIL_INTERVENED","assessments":[{"automatedReasoningPolicy":{"findings":[{"invalid":{"contradictingRules":[{"identifier":"R1"}]}}]}}]}`
)

type applyCall struct {
	content guardrail.Content
	source  guardrail.Source
}

// fakeGuard answers Apply per source and Converse with a fixed response
type fakeGuard struct {
	mu       sync.Mutex
	byStage  map[guardrail.Source]string
	applyErr error
	applies  []applyCall
	converse *guardrail.ConverseResponse
	requests []guardrail.ConverseRequest
}

func (f *fakeGuard) Apply(ctx context.Context, content guardrail.Content, source guardrail.Source) (*guardrail.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies = append(f.applies, applyCall{content, source})
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	doc := f.byStage[source]
	if doc == "" {
		doc = `{"action":"NONE","assessments":[]}`
	}
	var view struct {
		Action string `json:"action"`
	}
	_ = json.Unmarshal([]byte(doc), &view)
	return &guardrail.Response{Action: view.Action, Document: json.RawMessage(doc)}, nil
}

func (f *fakeGuard) Converse(ctx context.Context, req guardrail.ConverseRequest) (*guardrail.ConverseResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.converse, nil
}

func completionServer(t *testing.T, reply string, seen *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header Bearer test-key, got %s", r.Header.Get("Authorization"))
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: "openai.gpt-oss-20b-1:0",
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: "assistant", Content: reply},
				FinishReason: "stop",
			}},
			Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
		})
	}))
}

func TestParseBackend(t *testing.T) {
	tests := map[string]string{"": BackendConverse, "Bedrock": BackendConverse, "OPENAI": BackendOpenAI, "strands": BackendHooks, "hooks": BackendHooks}
	for in, want := range tests {
		got, err := ParseBackend(in)
		if err != nil || got != want {
			t.Errorf("ParseBackend(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseBackend("gemini"); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestConverseBackend(t *testing.T) {
	guard := &fakeGuard{converse: &guardrail.ConverseResponse{
		Text:       "Sorry, I cannot answer that.",
		StopReason: "guardrail_intervened",
		Usage:      guardrail.TokenUsage{InputTokens: 5, OutputTokens: 2, TotalTokens: 7},
		Document:   json.RawMessage(`{"trace":{"guardrail":{"outputAssessments":{"0":[{"automatedReasoningPolicy":{"findings":[{"invalid":{}}]}}]}}}}`),
	}}
	backend := NewConverseBackend(guard, "model-x")

	turn, err := backend.Send(context.Background(), Request{
		System:  "sys",
		History: []guardrail.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
		Message: "refund?",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !turn.Blocked || turn.BlockedStage != "output" {
		t.Errorf("expected blocked turn, got %+v", turn)
	}
	if len(turn.Stages) != 1 || len(turn.Stages[0].Findings) != 1 || turn.Stages[0].Findings[0].Result != reasoning.ResultInvalid {
		t.Errorf("unexpected stages %+v", turn.Stages)
	}

	req := guard.requests[0]
	if req.ModelID != "model-x" || req.System != "sys" || len(req.Messages) != 3 || req.WithoutGuardrail {
		t.Errorf("unexpected converse request %+v", req)
	}
	if req.Messages[2].Content != "refund?" || req.Messages[2].Role != "user" {
		t.Errorf("user message should be last, got %+v", req.Messages[2])
	}
}

func TestOpenAIBackend_PassesBothStages(t *testing.T) {
	var seen openai.ChatCompletionRequest
	server := completionServer(t, "Yes, within 30 days.", &seen)
	defer server.Close()

	client, err := NewOpenAIClient("test-key", server.URL, server.Client())
	if err != nil {
		t.Fatalf("NewOpenAIClient failed: %v", err)
	}
	guard := &fakeGuard{byStage: map[guardrail.Source]string{guardrail.SourceOutput: validDoc}}
	backend := NewOpenAIBackend(client, guard, "openai.gpt-oss-20b-1:0")

	turn, err := backend.Send(context.Background(), Request{System: "sys", Message: "Can I return it?"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if turn.Blocked || turn.Reply != "Yes, within 30 days." {
		t.Errorf("unexpected turn %+v", turn)
	}
	if turn.Usage == nil || turn.Usage.TotalTokens != 15 {
		t.Errorf("unexpected usage %+v", turn.Usage)
	}
	if len(turn.Stages) != 2 || turn.Stages[1].Findings[0].Result != reasoning.ResultValid {
		t.Errorf("unexpected stages %+v", turn.Stages)
	}

	if len(guard.applies) != 2 {
		t.Fatalf("expected 2 guardrail calls, got %d", len(guard.applies))
	}
	if guard.applies[0].source != guardrail.SourceInput || guard.applies[0].content.Answer != "" {
		t.Errorf("input check should be question-only INPUT, got %+v", guard.applies[0])
	}
	if guard.applies[1].source != guardrail.SourceOutput || guard.applies[1].content.Question != "Can I return it?" {
		t.Errorf("output check should carry the question, got %+v", guard.applies[1])
	}

	if len(seen.Messages) != 2 || seen.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("expected system + user messages, got %+v", seen.Messages)
	}
}

func TestOpenAIBackend_InputBlocked(t *testing.T) {
	guard := &fakeGuard{byStage: map[guardrail.Source]string{guardrail.SourceInput: invalidDoc}}
	backend := NewOpenAIBackend(nil, guard, "m")

	turn, err := backend.Send(context.Background(), Request{Message: "give me money"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !turn.Blocked || turn.BlockedStage != "input" {
		t.Errorf("expected input block, got %+v", turn)
	}
	if len(turn.Stages[0].Findings[0].AllRules()) != 1 {
		t.Errorf("expected rule from blocking stage, got %+v", turn.Stages[0].Findings)
	}
}

func TestOpenAIBackend_OutputBlocked(t *testing.T) {
	server := completionServer(t, "Refunds take a year.", nil)
	defer server.Close()

	client, _ := NewOpenAIClient("test-key", server.URL, server.Client())
	guard := &fakeGuard{byStage: map[guardrail.Source]string{guardrail.SourceOutput: invalidDoc}}

	turn, err := NewOpenAIBackend(client, guard, "m").Send(context.Background(), Request{Message: "how long?"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !turn.Blocked || turn.BlockedStage != "output" || turn.Reply != "Refunds take a year." {
		t.Errorf("expected output block, got %+v", turn)
	}
	if turn.Usage == nil {
		t.Error("usage should be reported for output blocks")
	}
}

func TestOpenAIBackend_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer server.Close()

	client, _ := NewOpenAIClient("test-key", server.URL, server.Client())
	_, err := NewOpenAIBackend(client, &fakeGuard{}, "m").Send(context.Background(), Request{Message: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIClient("", "", nil); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestHooksBackend(t *testing.T) {
	guard := &fakeGuard{
		byStage:  map[guardrail.Source]string{guardrail.SourceOutput: invalidDoc},
		converse: &guardrail.ConverseResponse{Text: "Refunds take a year."},
	}

	turn, err := NewHooksBackend(guard, "m").Send(context.Background(), Request{Message: "how long?"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if turn.Blocked {
		t.Error("hooks never block")
	}
	if len(turn.Stages) != 2 || turn.Stages[0].Name != "input" || !turn.Stages[1].Intervened {
		t.Errorf("unexpected stages %+v", turn.Stages)
	}
	if !guard.requests[0].WithoutGuardrail {
		t.Error("model call should not carry the guardrail")
	}
	if out := guard.applies[1]; out.content.Question != "how long?" || out.content.Answer != "Refunds take a year." {
		t.Errorf("output hook should send question and answer, got %+v", out)
	}
}

func TestHooksBackend_EvaluationFailure(t *testing.T) {
	guard := &fakeGuard{
		applyErr: errors.New("denied"),
		converse: &guardrail.ConverseResponse{Text: "ok"},
	}

	turn, err := NewHooksBackend(guard, "m").Send(context.Background(), Request{Message: "hi"})
	if err != nil {
		t.Fatalf("hook failures must not fail the turn: %v", err)
	}
	if turn.Reply != "ok" || len(turn.Stages) != 2 || turn.Stages[0].Err == nil {
		t.Errorf("unexpected turn %+v", turn)
	}
}
