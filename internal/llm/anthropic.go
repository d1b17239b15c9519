package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const (
	DefaultAnthropicModel     = "claude-sonnet-4-5"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicProvider calls the Anthropic messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	apiKey    string
	maxTokens int
	logger    *zap.Logger
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(opts Options, logger *zap.Logger) *AnthropicProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := opts.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	reqOpts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(opts.APIKey),
		anthropicoption.WithHTTPClient(&http.Client{Timeout: opts.Timeout}),
		anthropicoption.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, anthropicoption.WithBaseURL(opts.BaseURL))
	}

	return &AnthropicProvider{
		client:    anthropic.NewClient(reqOpts...),
		model:     model,
		apiKey:    opts.APIKey,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// IsConfigured checks if the API key is set.
func (p *AnthropicProvider) IsConfigured() bool {
	return p.apiKey != ""
}

// Generate sends a system instruction and prompt and returns the first text block.
func (p *AnthropicProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("Anthropic API key not configured")
	}

	start := time.Now()
	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			p.logger.Debug("llm response",
				zap.String("provider", "anthropic"),
				zap.String("model", p.model),
				zap.Int64("tokens_in", message.Usage.InputTokens),
				zap.Int64("tokens_out", message.Usage.OutputTokens),
				zap.Duration("latency", time.Since(start)),
			)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}
