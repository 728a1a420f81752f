package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	antoption "github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
)

var _ Completer = (*AnthropicCompleter)(nil)

// AnthropicCompleter answers through the Anthropic messages API.
type AnthropicCompleter struct {
	client anthropic.Client
	opts   Options
	logger *zap.Logger
}

// NewAnthropicCompleter creates an Anthropic completer.
func NewAnthropicCompleter(opts Options, logger *zap.Logger, extra ...antoption.RequestOption) (*AnthropicCompleter, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if opts.Model == "" {
		opts.Model = "claude-3-5-haiku-latest"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	reqOpts := []antoption.RequestOption{antoption.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, antoption.WithBaseURL(opts.BaseURL))
	}
	reqOpts = append(reqOpts, extra...)
	return &AnthropicCompleter{
		client: anthropic.NewClient(reqOpts...),
		opts:   opts,
		logger: utils.OrNop(logger),
	}, nil
}

// Name returns the provider and model.
func (c *AnthropicCompleter) Name() string { return "anthropic/" + c.opts.Model }

// Complete sends one messages request and joins the returned text blocks.
func (c *AnthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.opts.Model),
		MaxTokens: int64(c.opts.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(req))),
		},
		System: []anthropic.TextBlockParam{{Text: SystemPrompt}},
	}
	if c.opts.Temperature > 0 {
		params.Temperature = anthropic.Float(c.opts.Temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic completion failed: %w", err)
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from anthropic")
	}
	c.logger.Debug("anthropic completion",
		zap.String("model", string(resp.Model)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens))
	return strings.TrimSpace(text.String()), nil
}
