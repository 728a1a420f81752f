package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	oaioption "github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
)

var _ Completer = (*OpenAICompleter)(nil)

// OpenAICompleter answers through the OpenAI chat completions API, or any
// server compatible with it when BaseURL is set.
type OpenAICompleter struct {
	client openai.Client
	opts   Options
	logger *zap.Logger
}

// NewOpenAICompleter creates an OpenAI completer.
func NewOpenAICompleter(opts Options, logger *zap.Logger, extra ...oaioption.RequestOption) (*OpenAICompleter, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	reqOpts := []oaioption.RequestOption{oaioption.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, oaioption.WithBaseURL(opts.BaseURL))
	}
	reqOpts = append(reqOpts, extra...)
	return &OpenAICompleter{
		client: openai.NewClient(reqOpts...),
		opts:   opts,
		logger: utils.OrNop(logger),
	}, nil
}

// Name returns the provider and model.
func (c *OpenAICompleter) Name() string { return "openai/" + c.opts.Model }

// Complete sends one chat completion request.
func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.opts.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt),
			openai.UserMessage(BuildPrompt(req)),
		},
		Temperature: openai.Float(c.opts.Temperature),
	}
	if c.opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.opts.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from openai")
	}
	c.logger.Debug("openai completion",
		zap.String("model", resp.Model),
		zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int64("completion_tokens", resp.Usage.CompletionTokens))
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
