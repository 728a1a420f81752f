// Package query answers questions from the documents stored in the vector index.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// DefaultTopK is the number of nearest records retrieved per question.
const DefaultTopK = 10

// Engine embeds a question, retrieves the nearest chunks and asks the completer.
type Engine struct {
	embedder  embedding.Embedder
	vectors   vector.Service
	completer llm.Completer
	index     string
	config    *config.QueryConfig
	logger    *zap.Logger
}

// NewEngine creates a query engine over index. A nil cfg uses the defaults.
func NewEngine(
	embedder embedding.Embedder,
	vectors vector.Service,
	completer llm.Completer,
	index string,
	cfg *config.QueryConfig,
	logger *zap.Logger,
) *Engine {
	if cfg == nil {
		cfg = &config.QueryConfig{}
	}
	return &Engine{
		embedder:  embedder,
		vectors:   vectors,
		completer: completer,
		index:     index,
		config:    cfg,
		logger:    utils.OrNop(logger),
	}
}

// Ask answers question. When the index returns no matches the answer is unmatched
// and the completer is not called.
func (e *Engine) Ask(ctx context.Context, question string) (*models.Answer, error) {
	start := time.Now()
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}
	log := e.logger.With(zap.String("request_id", uuid.NewString()))

	vec, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	matches, err := e.vectors.Query(ctx, e.index, vector.QueryRequest{
		Vector:          vec,
		TopK:            e.topK(),
		IncludeMetadata: true,
		IncludeValues:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query index %s: %w", e.index, err)
	}

	answer := &models.Answer{Question: question, Matches: len(matches)}
	if len(matches) == 0 {
		answer.QueryTime = time.Since(start).Milliseconds()
		log.Debug("no matches", zap.String("question", question))
		return answer, nil
	}

	stuffed, truncated := utils.TruncateRunes(joinTexts(matches), e.config.MaxContextChars)
	answer.Truncated = truncated
	answer.Sources = sources(matches)

	text, err := e.completer.Complete(ctx, llm.CompletionRequest{
		Context:  []string{stuffed},
		Question: question,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete answer with %s: %w", e.completer.Name(), err)
	}
	answer.Matched = true
	answer.Text = strings.TrimSpace(text)
	answer.QueryTime = time.Since(start).Milliseconds()
	log.Debug("question answered",
		zap.Int("matches", len(matches)),
		zap.Bool("truncated", truncated),
		zap.Int64("query_time_ms", answer.QueryTime))
	return answer, nil
}

func (e *Engine) topK() int {
	if e.config.TopK > 0 {
		return e.config.TopK
	}
	return DefaultTopK
}

// joinTexts space-joins the stored text of each match in score order.
func joinTexts(matches []vector.Match) string {
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if t := m.Metadata[models.MetaText]; t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, " ")
}

// sources lists the distinct sources of matches in first-seen order.
func sources(matches []vector.Match) []string {
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		src := m.Metadata[models.MetaSource]
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}
