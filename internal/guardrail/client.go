package guardrail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.uber.org/zap"

	"github.com/ppiankov/archeck/internal/worker"
)

const (
	ActionNone       = "NONE"
	ActionIntervened = "GUARDRAIL_INTERVENED"

	stopReasonIntervened = "guardrail_intervened"

	maxThrottleRetries  = 2
	defaultRetryBackoff = time.Second
)

// RuntimeAPI is the slice of the Bedrock runtime client this package uses
type RuntimeAPI interface {
	ApplyGuardrail(ctx context.Context, params *bedrockruntime.ApplyGuardrailInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ApplyGuardrailOutput, error)
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// AWSConfig selects region and shared profile. Empty values fall back to the
// standard AWS config/credential chain.
type AWSConfig struct {
	Region     string
	Profile    string
	HTTPClient *http.Client
}

// LoadAWS resolves an aws.Config using the default chain plus overrides
func LoadAWS(ctx context.Context, cfg AWSConfig) (aws.Config, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.HTTPClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(cfg.HTTPClient))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewRuntimeAPI creates a Bedrock runtime client from an aws.Config
func NewRuntimeAPI(awsCfg aws.Config) *bedrockruntime.Client {
	return bedrockruntime.NewFromConfig(awsCfg)
}

// Options configures a Client
type Options struct {
	GuardrailID      string
	GuardrailVersion string
	Limiter          *worker.Limiter
	Logger           *zap.Logger

	// RetryBackoff is the first delay after a throttled call; it doubles on
	// each retry (default 1s)
	RetryBackoff time.Duration
}

// Client applies one guardrail through the Bedrock runtime
type Client struct {
	api     RuntimeAPI
	id      string
	version string
	limiter *worker.Limiter
	backoff time.Duration
	logger  *zap.Logger
}

// New wraps a runtime API for the configured guardrail
func New(api RuntimeAPI, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	return &Client{
		api:     api,
		id:      opts.GuardrailID,
		version: opts.GuardrailVersion,
		limiter: opts.Limiter,
		backoff: backoff,
		logger:  logger.Named("guardrail"),
	}
}

// GuardrailID returns the configured guardrail identifier
func (c *Client) GuardrailID() string { return c.id }

// GuardrailVersion returns the configured guardrail version
func (c *Client) GuardrailVersion() string { return c.version }

// Response is the outcome of ApplyGuardrail
type Response struct {
	Action       string
	ActionReason string
	Usage        map[string]int64

	// Document is the response in service wire format
	Document json.RawMessage
}

// Intervened reports whether the guardrail intervened
func (r *Response) Intervened() bool {
	return r.Action == ActionIntervened
}

// Apply runs the guardrail against content
func (c *Client) Apply(ctx context.Context, content Content, source Source) (*Response, error) {
	blocks, err := content.Blocks()
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx, c.id); err != nil {
		return nil, err
	}

	c.logger.Debug("applying guardrail",
		zap.String("guardrail_id", c.id),
		zap.String("version", c.version),
		zap.String("source", string(source)),
		zap.String("content_kind", string(content.Kind())),
	)

	input := &bedrockruntime.ApplyGuardrailInput{
		GuardrailIdentifier: aws.String(c.id),
		GuardrailVersion:    aws.String(c.version),
		Source:              types.GuardrailContentSource(source),
		Content:             blocks,
	}
	var out *bedrockruntime.ApplyGuardrailOutput
	err = c.withRetry(ctx, "ApplyGuardrail", func() error {
		var callErr error
		out, callErr = c.api.ApplyGuardrail(ctx, input)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	doc, err := applyDocument(out)
	if err != nil {
		return nil, fmt.Errorf("encode guardrail response: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode guardrail response: %w", err)
	}

	var view struct {
		Action       string           `json:"action"`
		ActionReason string           `json:"actionReason"`
		Usage        map[string]int64 `json:"usage"`
	}
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("decode guardrail response: %w", err)
	}

	c.logger.Debug("guardrail response",
		zap.String("action", view.Action),
		zap.Int("assessments", len(out.Assessments)),
	)

	return &Response{
		Action:       view.Action,
		ActionReason: view.ActionReason,
		Usage:        view.Usage,
		Document:     data,
	}, nil
}

// Message is one conversation turn
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// ConverseRequest is a model call routed through the guardrail
type ConverseRequest struct {
	ModelID  string
	System   string
	Messages []Message

	// MaxTokens and Temperature are sent when non-zero
	MaxTokens   int32
	Temperature float32

	// WithoutGuardrail calls the model bare, for callers that apply the
	// guardrail themselves
	WithoutGuardrail bool
}

// TokenUsage counts model tokens
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// ConverseResponse is a model reply with the guardrail trace attached
type ConverseResponse struct {
	Text       string
	StopReason string
	Usage      TokenUsage

	// Document is the response in service wire format
	Document json.RawMessage
}

// Intervened reports whether the guardrail replaced the model reply
func (r *ConverseResponse) Intervened() bool {
	return r.StopReason == stopReasonIntervened
}

// Converse calls a model with the guardrail attached and tracing enabled
func (c *Client) Converse(ctx context.Context, req ConverseRequest) (*ConverseResponse, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoContent
	}

	if err := c.limiter.Wait(ctx, c.id); err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.ModelID),
		Messages: make([]types.Message, 0, len(req.Messages)),
	}
	if !req.WithoutGuardrail {
		input.GuardrailConfig = &types.GuardrailConfiguration{
			GuardrailIdentifier: aws.String(c.id),
			GuardrailVersion:    aws.String(c.version),
			Trace:               types.GuardrailTraceEnabled,
		}
	}
	for _, m := range req.Messages {
		input.Messages = append(input.Messages, types.Message{
			Role:    types.ConversationRole(strings.ToLower(m.Role)),
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		inference := &types.InferenceConfiguration{}
		if req.MaxTokens > 0 {
			inference.MaxTokens = aws.Int32(req.MaxTokens)
		}
		if req.Temperature > 0 {
			inference.Temperature = aws.Float32(req.Temperature)
		}
		input.InferenceConfig = inference
	}

	c.logger.Debug("converse",
		zap.String("model_id", req.ModelID),
		zap.String("guardrail_id", c.id),
		zap.Int("messages", len(req.Messages)),
	)

	var out *bedrockruntime.ConverseOutput
	err := c.withRetry(ctx, "Converse", func() error {
		var callErr error
		out, callErr = c.api.Converse(ctx, input)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	doc, err := converseDocument(out)
	if err != nil {
		return nil, fmt.Errorf("encode converse response: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode converse response: %w", err)
	}

	var view struct {
		StopReason string     `json:"stopReason"`
		Usage      TokenUsage `json:"usage"`
	}
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("decode converse response: %w", err)
	}

	resp := &ConverseResponse{
		StopReason: view.StopReason,
		Usage:      view.Usage,
		Document:   data,
	}
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		resp.Text = messageText(msg.Value)
	}

	c.logger.Debug("converse response",
		zap.String("stop_reason", resp.StopReason),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return resp, nil
}

// withRetry runs call and retries it with a doubling backoff while the
// service reports throttling. Errors come back wrapped by wrapError.
func (c *Client) withRetry(ctx context.Context, op string, call func() error) error {
	delay := c.backoff
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		err = wrapError(op, err)

		var apiErr *APIError
		if attempt == maxThrottleRetries || !errors.As(err, &apiErr) || !apiErr.Throttled() {
			return err
		}

		c.logger.Warn("throttled, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		if werr := c.limiter.WaitWithDelay(ctx, c.id, delay); werr != nil {
			return werr
		}
		delay *= 2
	}
}
