package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single completion request.
const DefaultTimeout = 120 * time.Second

// Provider is the interface for language-model providers. Generate sends one
// system instruction and one user prompt and returns the completion text.
type Provider interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	IsConfigured() bool
}

// Options selects and configures a provider.
type Options struct {
	Provider  string // openai, anthropic or ollama
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration

	// Fallback is tried when the primary provider is not configured.
	Fallback *Options
}

// New builds the provider named by opts without checking availability.
func New(opts Options, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	switch strings.ToLower(opts.Provider) {
	case "openai", "":
		return NewOpenAIProvider(opts, logger), nil
	case "anthropic":
		return NewAnthropicProvider(opts, logger), nil
	case "ollama":
		return NewOllamaProvider(opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}

// CreateProvider returns the first configured provider from opts and its
// fallback chain, or nil when none is usable.
func CreateProvider(opts Options, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	for o := &opts; o != nil; o = o.Fallback {
		p, err := New(*o, logger)
		if err != nil {
			return nil, err
		}
		if p.IsConfigured() {
			logger.Info("using llm provider", zap.String("provider", o.Provider), zap.String("model", o.Model))
			return p, nil
		}
		logger.Warn("llm provider not available", zap.String("provider", o.Provider))
	}

	logger.Warn("no llm provider available; set OPENAI_API_KEY or ANTHROPIC_API_KEY, or start Ollama")
	return nil, nil
}
