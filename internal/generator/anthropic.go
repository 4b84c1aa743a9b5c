package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// AnthropicConfig configures the Anthropic Messages client
type AnthropicConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int
}

// AnthropicGenerator generates documents with the Anthropic Messages API
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewAnthropic creates a generator. The API key is required.
func NewAnthropic(config AnthropicConfig, logger *zap.Logger) (*AnthropicGenerator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(config.MaxRetries),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(config.BaseURL, "/")+"/"))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(config.Timeout))
	}

	return &AnthropicGenerator{
		client:    anthropic.NewClient(opts...),
		model:     config.Model,
		maxTokens: config.MaxTokens,
		logger:    logger,
	}, nil
}

// Generate sends the system prompt separately and returns the concatenated
// text blocks of the reply
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if err := prompt.Validate(); err != nil {
		return "", err
	}

	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}

	g.logger.Debug("Calling generator",
		zap.String("model", g.model),
		zap.Int("system_chars", len(prompt.System)),
		zap.Int("user_chars", len(prompt.User)),
		zap.Int("max_tokens", maxTokens))

	start := time.Now()
	message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(maxTokens),
		System:    []anthropic.TextBlockParam{{Text: prompt.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			g.logger.Warn("Generator API error",
				zap.Int("status", apiErr.StatusCode),
				zap.Duration("elapsed", time.Since(start)))
			return "", fmt.Errorf("anthropic api error (status %d): %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}

	g.logger.Debug("Generator response received",
		zap.Int("chars", b.Len()),
		zap.String("stop_reason", string(message.StopReason)),
		zap.Duration("elapsed", time.Since(start)))

	return b.String(), nil
}
