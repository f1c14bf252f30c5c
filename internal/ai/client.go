package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"fable-server/internal/models"
)

var (
	modelRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fable_model_requests_total",
			Help: "Total number of structured-output model requests.",
		},
		[]string{"model", "schema", "status"},
	)
	modelRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fable_model_request_duration_seconds",
			Help:    "Histogram of structured-output model request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "schema"},
	)
	modelPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fable_model_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		},
		[]string{"model", "schema"},
	)
	modelCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fable_model_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20),
		},
		[]string{"model", "schema"},
	)
)

// Call describes one schema-constrained model invocation. Input is
// serialized to JSON and sent as the user message; the model's JSON reply is
// decoded into Out, which must be a pointer.
type Call struct {
	// SchemaName identifies the expected response shape in logs and metrics.
	SchemaName   string
	SystemPrompt string
	Input        any
	Out          any
	// Light routes the call to the cheaper model used for bookkeeping
	// agents (cast updates, image-change decisions).
	Light       bool
	Temperature float32
}

// StructuredInvoker runs a single schema-constrained model call. Retries are
// the caller's concern (see DoWithRetries).
type StructuredInvoker interface {
	GenerateStructured(ctx context.Context, call Call) error
}

// Config holds settings for the model client.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	LightModel string
}

// Client talks to an OpenAI-compatible chat-completions endpoint and
// enforces JSON output on every call.
type Client struct {
	client     *openai.Client
	model      string
	lightModel string
	encoder    *tiktoken.Tiktoken
	logger     *zap.Logger
}

var _ StructuredInvoker = (*Client)(nil)

// New creates a model client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("model API key is not configured")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is not configured")
	}
	if cfg.LightModel == "" {
		cfg.LightModel = cfg.Model
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	// Token counting is best effort; usage data from the API takes
	// precedence and a missing tokenizer only disables the local fallback.
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("Tokenizer unavailable, token metrics rely on API usage data", zap.Error(err))
		encoder = nil
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      cfg.Model,
		lightModel: cfg.LightModel,
		encoder:    encoder,
		logger:     logger.Named("AIClient"),
	}, nil
}

// GenerateStructured performs one chat completion constrained to JSON output
// and decodes the reply into call.Out. A reply that is not valid JSON for
// the requested schema is reported as ErrMalformedModelResponse; transport
// failures and timeouts surface as-is.
func (c *Client) GenerateStructured(ctx context.Context, call Call) error {
	model := c.model
	if call.Light {
		model = c.lightModel
	}
	log := c.logger.With(zap.String("model", model), zap.String("schema", call.SchemaName))

	inputJSON, err := json.Marshal(call.Input)
	if err != nil {
		return fmt.Errorf("failed to serialize model input: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: call.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(inputJSON)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if call.Temperature > 0 {
		req.Temperature = call.Temperature
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	modelRequestDuration.WithLabelValues(model, call.SchemaName).Observe(time.Since(start).Seconds())
	if err != nil {
		modelRequestsTotal.WithLabelValues(model, call.SchemaName, "error").Inc()
		log.Error("Chat completion request failed", zap.Error(err))
		return fmt.Errorf("model call failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		modelRequestsTotal.WithLabelValues(model, call.SchemaName, "empty").Inc()
		log.Warn("Model returned no content")
		return models.ErrEmptyModelResponse
	}

	content := stripJSONFences(resp.Choices[0].Message.Content)
	c.observeTokens(model, call.SchemaName, resp, string(inputJSON), content)

	if err := json.Unmarshal([]byte(content), call.Out); err != nil {
		modelRequestsTotal.WithLabelValues(model, call.SchemaName, "malformed").Inc()
		log.Warn("Model reply is not valid JSON for the requested schema", zap.Error(err))
		return fmt.Errorf("%w: %v", models.ErrMalformedModelResponse, err)
	}

	modelRequestsTotal.WithLabelValues(model, call.SchemaName, "success").Inc()
	return nil
}

func (c *Client) observeTokens(model, schema string, resp openai.ChatCompletionResponse, prompt, completion string) {
	promptTokens := resp.Usage.PromptTokens
	completionTokens := resp.Usage.CompletionTokens
	if promptTokens == 0 && c.encoder != nil {
		promptTokens = len(c.encoder.Encode(prompt, nil, nil))
	}
	if completionTokens == 0 && c.encoder != nil {
		completionTokens = len(c.encoder.Encode(completion, nil, nil))
	}
	modelPromptTokens.WithLabelValues(model, schema).Observe(float64(promptTokens))
	modelCompletionTokens.WithLabelValues(model, schema).Observe(float64(completionTokens))
}

// stripJSONFences removes a surrounding markdown code fence, which some
// models emit even in JSON mode.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
