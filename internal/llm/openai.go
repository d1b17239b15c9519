package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"
)

const (
	DefaultOpenAIModel   = "gpt-5-mini"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// OpenAIProvider calls the OpenAI chat completions API.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	apiKey    string
	maxTokens int
	logger    *zap.Logger
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(opts Options, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := opts.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	client := openai.NewClient(
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(&http.Client{Timeout: opts.Timeout}),
		option.WithMaxRetries(0),
	)

	return &OpenAIProvider{
		client:    client,
		model:     model,
		apiKey:    opts.APIKey,
		maxTokens: opts.MaxTokens,
		logger:    logger,
	}
}

// IsConfigured checks if the API key is set.
func (p *OpenAIProvider) IsConfigured() bool {
	return p.apiKey != ""
}

// Generate sends a system instruction and prompt and returns the first choice.
func (p *OpenAIProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	req := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
	}
	if p.maxTokens > 0 {
		req.MaxCompletionTokens = openai.Int(int64(p.maxTokens))
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}

	content := resp.Choices[0].Message.Content
	p.logger.Debug("llm response",
		zap.String("provider", "openai"),
		zap.String("model", p.model),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("response_chars", len(content)),
		zap.Duration("latency", time.Since(start)),
	)
	return content, nil
}
