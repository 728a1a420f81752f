// Package llm answers questions from supplied context using a hosted language model.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
)

// CompletionRequest carries the context documents and the question to answer.
type CompletionRequest struct {
	Context  []string
	Question string
}

// Completer produces an answer for a question grounded in context documents.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Name() string
}

// SystemPrompt instructs the model to stay within the supplied context.
const SystemPrompt = "You answer questions using only the provided context. " +
	"If the context does not contain the answer, say that you don't know instead of making one up."

// BuildPrompt renders the user message: the context documents, then the question.
func BuildPrompt(req CompletionRequest) string {
	var b strings.Builder
	b.WriteString("Use the following pieces of context to answer the question at the end.\n\n")
	for i, doc := range req.Context {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(doc)
	}
	b.WriteString("\n\nQuestion: ")
	b.WriteString(strings.TrimSpace(req.Question))
	b.WriteString("\nHelpful Answer:")
	return b.String()
}

// Options are the settings shared by every hosted completer.
type Options struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

func optionsFromConfig(cfg config.LLMConfig) Options {
	return Options{
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}
}

// New creates the completer selected by cfg.Provider.
// Supported providers: "openai" (default), "anthropic", "gemini", "mock".
func New(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Completer, error) {
	opts := optionsFromConfig(cfg)
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAICompleter(opts, logger)
	case "anthropic":
		return NewAnthropicCompleter(opts, logger)
	case "gemini":
		return NewGeminiCompleter(ctx, opts, logger)
	case "mock":
		return NewMockCompleter("mock answer"), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s (supported: openai, anthropic, gemini, mock)", cfg.Provider)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
