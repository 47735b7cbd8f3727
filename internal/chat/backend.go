package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ppiankov/archeck/internal/guardrail"
	"github.com/ppiankov/archeck/internal/reasoning"
)

// Backend names accepted by ParseBackend
const (
	BackendConverse = "converse"
	BackendOpenAI   = "openai"
	BackendHooks    = "hooks"
)

// ErrUnknownBackend is returned for an unsupported backend name
var ErrUnknownBackend = errors.New("unknown chat backend")

// ParseBackend normalizes a backend name
func ParseBackend(name string) (string, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", BackendConverse, "bedrock":
		return BackendConverse, nil
	case BackendOpenAI:
		return BackendOpenAI, nil
	case BackendHooks, "strands":
		return BackendHooks, nil
	default:
		return "", fmt.Errorf("%w: %q (supported: converse, openai, hooks)", ErrUnknownBackend, name)
	}
}

// Request is one user turn handed to a backend
type Request struct {
	System  string
	History []guardrail.Message
	Message string
}

// Stage is one guardrail evaluation made during a turn
type Stage struct {
	Name       string // "input", "output" or "trace"
	Intervened bool
	Findings   []reasoning.Finding
	Err        error
}

// Usage counts model tokens for a turn
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Turn is the outcome of one user message
type Turn struct {
	Reply string

	// Blocked turns are shown but their reply is not kept in history
	Blocked      bool
	BlockedStage string

	Stages []Stage
	Usage  *Usage
}

// Backend sends a user turn to a model with guardrail checks
type Backend interface {
	Name() string
	Send(ctx context.Context, req Request) (*Turn, error)
}

// Conversor calls the Bedrock Converse API
type Conversor interface {
	Converse(ctx context.Context, req guardrail.ConverseRequest) (*guardrail.ConverseResponse, error)
}

// Applier applies the guardrail to content
type Applier interface {
	Apply(ctx context.Context, content guardrail.Content, source guardrail.Source) (*guardrail.Response, error)
}

func messages(req Request) []guardrail.Message {
	msgs := make([]guardrail.Message, 0, len(req.History)+1)
	msgs = append(msgs, req.History...)
	return append(msgs, guardrail.Message{Role: "user", Content: req.Message})
}

// ConverseBackend attaches the guardrail to the Converse call and reads the
// findings from its trace
type ConverseBackend struct {
	client  Conversor
	modelID string
}

// NewConverseBackend creates a backend that calls modelID through client
func NewConverseBackend(client Conversor, modelID string) *ConverseBackend {
	return &ConverseBackend{client: client, modelID: modelID}
}

// Name returns "converse"
func (b *ConverseBackend) Name() string { return BackendConverse }

// Send calls Converse with the guardrail attached. An intervened turn is
// returned blocked with the guardrail text as the reply.
func (b *ConverseBackend) Send(ctx context.Context, req Request) (*Turn, error) {
	resp, err := b.client.Converse(ctx, guardrail.ConverseRequest{
		ModelID:  b.modelID,
		System:   req.System,
		Messages: messages(req),
	})
	if err != nil {
		return nil, err
	}

	turn := &Turn{
		Reply:   resp.Text,
		Blocked: resp.Intervened(),
		Stages: []Stage{{
			Name:       "trace",
			Intervened: resp.Intervened(),
			Findings:   reasoning.ExtractFindingsJSON(resp.Document),
		}},
		Usage: &Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if turn.Blocked {
		turn.BlockedStage = "output"
	}
	return turn, nil
}

// ChatCompleter is the slice of the go-openai client this package uses
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAIClient builds a go-openai client for an OpenAI-compatible
// endpoint. A nil httpClient uses the library default.
func NewOpenAIClient(apiKey, baseURL string, httpClient *http.Client) (*openai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required (set OPENAI_API_KEY)")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(cfg), nil
}

// OpenAIBackend calls an OpenAI-compatible chat endpoint and applies the
// guardrail separately before and after the model
type OpenAIBackend struct {
	chat    ChatCompleter
	guard   Applier
	modelID string
}

// NewOpenAIBackend creates a backend that calls modelID through chat and
// checks both sides of the turn with guard
func NewOpenAIBackend(chat ChatCompleter, guard Applier, modelID string) *OpenAIBackend {
	return &OpenAIBackend{chat: chat, guard: guard, modelID: modelID}
}

// Name returns "openai"
func (b *OpenAIBackend) Name() string { return BackendOpenAI }

// Send checks the message (INPUT), calls the model and checks the answer
// with its question (OUTPUT), stopping at the first stage that intervenes.
func (b *OpenAIBackend) Send(ctx context.Context, req Request) (*Turn, error) {
	input, err := b.guard.Apply(ctx, guardrail.Content{Question: req.Message}, guardrail.SourceInput)
	if err != nil {
		return nil, fmt.Errorf("input guardrail: %w", err)
	}
	inputStage := Stage{Name: "input", Intervened: input.Intervened(), Findings: reasoning.ExtractFindingsJSON(input.Document)}
	if inputStage.Intervened {
		return &Turn{
			Reply:        req.Message,
			Blocked:      true,
			BlockedStage: "input",
			Stages:       []Stage{inputStage},
		}, nil
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range messages(req) {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	completion, err := b.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    b.modelID,
		Messages: msgs,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("OpenAI API error: no choices in response")
	}
	reply := completion.Choices[0].Message.Content
	usage := &Usage{
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
		TotalTokens:  completion.Usage.TotalTokens,
	}

	output, err := b.guard.Apply(ctx, guardrail.Content{Question: req.Message, Answer: reply}, guardrail.SourceOutput)
	if err != nil {
		return nil, fmt.Errorf("output guardrail: %w", err)
	}
	outputStage := Stage{Name: "output", Intervened: output.Intervened(), Findings: reasoning.ExtractFindingsJSON(output.Document)}
	if outputStage.Intervened {
		return &Turn{
			Reply:        reply,
			Blocked:      true,
			BlockedStage: "output",
			Stages:       []Stage{outputStage},
			Usage:        usage,
		}, nil
	}

	return &Turn{
		Reply:  reply,
		Stages: []Stage{inputStage, outputStage},
		Usage:  usage,
	}, nil
}

// HookClient calls the model bare and applies the guardrail on the side
type HookClient interface {
	Conversor
	Applier
}

// HooksBackend runs the model without an attached guardrail and checks the
// user input and the answer in context. Findings are reported, nothing is
// blocked.
type HooksBackend struct {
	client  HookClient
	modelID string
}

// NewHooksBackend creates a backend that calls modelID through client
func NewHooksBackend(client HookClient, modelID string) *HooksBackend {
	return &HooksBackend{client: client, modelID: modelID}
}

// Name returns "hooks"
func (b *HooksBackend) Name() string { return BackendHooks }

// Send calls the model bare, then checks the input and the answer. The
// reply is never blocked.
func (b *HooksBackend) Send(ctx context.Context, req Request) (*Turn, error) {
	turn := &Turn{}

	if stage, ok := b.check(ctx, "input", guardrail.Content{Question: req.Message}, guardrail.SourceInput); ok {
		turn.Stages = append(turn.Stages, stage)
	}

	resp, err := b.client.Converse(ctx, guardrail.ConverseRequest{
		ModelID:          b.modelID,
		System:           req.System,
		Messages:         messages(req),
		WithoutGuardrail: true,
	})
	if err != nil {
		return nil, err
	}
	turn.Reply = resp.Text
	turn.Usage = &Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}

	if resp.Text != "" {
		content := guardrail.Content{Question: req.Message, Answer: resp.Text}
		if stage, ok := b.check(ctx, "output", content, guardrail.SourceOutput); ok {
			turn.Stages = append(turn.Stages, stage)
		}
	}

	return turn, nil
}

// check runs one hook. A failed evaluation is reported as a stage with no
// findings rather than failing the turn.
func (b *HooksBackend) check(ctx context.Context, name string, content guardrail.Content, source guardrail.Source) (Stage, bool) {
	resp, err := b.client.Apply(ctx, content, source)
	if err != nil {
		if errors.Is(err, guardrail.ErrNoContent) {
			return Stage{}, false
		}
		return Stage{Name: name, Findings: []reasoning.Finding{}, Err: err}, true
	}
	return Stage{
		Name:       name,
		Intervened: resp.Intervened(),
		Findings:   reasoning.ExtractFindingsJSON(resp.Document),
	}, true
}
