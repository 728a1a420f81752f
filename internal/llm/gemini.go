package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/hyperjump/kotae/pkg/utils"
)

var _ Completer = (*GeminiCompleter)(nil)

// GeminiCompleter answers through the Gemini API.
type GeminiCompleter struct {
	client *genai.Client
	opts   Options
	logger *zap.Logger
}

// NewGeminiCompleter creates a Gemini completer.
func NewGeminiCompleter(ctx context.Context, opts Options, logger *zap.Logger) (*GeminiCompleter, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash"
	}
	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	return &GeminiCompleter{client: client, opts: opts, logger: utils.OrNop(logger)}, nil
}

// Name returns the provider and model.
func (c *GeminiCompleter) Name() string { return "gemini/" + c.opts.Model }

// Complete sends one GenerateContent request.
func (c *GeminiCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(c.opts.Temperature)),
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
	}
	contents := []*genai.Content{
		genai.NewContentFromText(BuildPrompt(req), genai.RoleUser),
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.opts.Model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from gemini")
	}
	c.logger.Debug("gemini completion", zap.String("model", c.opts.Model))
	return text, nil
}
