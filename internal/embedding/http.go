package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hyperjump/kotae/internal/retry"
	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	defaultBatchSize      = 512
	defaultMaxConcurrency = 5
	defaultTimeout        = 60 * time.Second
	embeddingsPath        = "/v1/embeddings"
	maxErrorBody          = 2048
)

// HTTPConfig configures an HTTPEmbedder.
type HTTPConfig struct {
	Origin            string
	APIKey            string
	Model             string
	BatchSize         int
	MaxConcurrency    int
	StripNewLines     bool
	MaxRetries        int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// StatusError is returned when the embedding endpoint answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
	Wait time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embedding endpoint returned %d: %s", e.Code, e.Body)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

// RetryAfter returns the delay requested by the server, or zero.
func (e *StatusError) RetryAfter() time.Duration { return e.Wait }

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint at {origin}/v1/embeddings.
// Document batches are sent concurrently, bounded by MaxConcurrency, and every request
// runs inside the retry policy.
type HTTPEmbedder struct {
	endpoint       string
	apiKey         string
	model          string
	batchSize      int
	maxConcurrency int
	stripNewLines  bool
	client         *http.Client
	policy         *retry.Policy
	limiter        *rate.Limiter
	logger         *zap.Logger
}

var _ Embedder = (*HTTPEmbedder)(nil)

// HTTPOption configures an HTTPEmbedder.
type HTTPOption func(*HTTPEmbedder)

// WithLogger sets a logger for request and retry events.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(e *HTTPEmbedder) { e.logger = utils.OrNop(l) }
}

// WithRetryPolicy replaces the policy built from MaxRetries.
func WithRetryPolicy(p *retry.Policy) HTTPOption {
	return func(e *HTTPEmbedder) { e.policy = p }
}

// NewHTTPEmbedder creates an embedder for cfg.Origin.
func NewHTTPEmbedder(cfg HTTPConfig, opts ...HTTPOption) (*HTTPEmbedder, error) {
	if cfg.Origin == "" {
		return nil, fmt.Errorf("embedding origin is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	e := &HTTPEmbedder{
		endpoint:       strings.TrimRight(cfg.Origin, "/") + embeddingsPath,
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		batchSize:      cfg.BatchSize,
		maxConcurrency: cfg.MaxConcurrency,
		stripNewLines:  cfg.StripNewLines,
		client:         &http.Client{Timeout: cfg.Timeout},
		policy:         retry.NewPolicy(cfg.MaxRetries),
		logger:         zap.NewNop(),
	}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.MaxConcurrency)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// EmbedQuery embeds a single text.
func (e *HTTPEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.request(ctx, e.prepare(text), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return vecs[0], nil
}

// EmbedDocuments splits texts into batches of at most BatchSize, embeds the batches
// concurrently and returns the vectors in input order. Any failed batch fails the call.
func (e *HTTPEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrency)
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := make([]string, end-start)
		for i, t := range texts[start:end] {
			batch[i] = e.prepare(t)
		}
		g.Go(func() error {
			vecs, err := e.request(gctx, batch, len(batch))
			if err != nil {
				return fmt.Errorf("failed to embed batch at %d: %w", start, err)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	e.logger.Debug("embedded documents",
		zap.Int("texts", len(texts)),
		zap.Int("batches", (len(texts)+e.batchSize-1)/e.batchSize))
	return out, nil
}

func (e *HTTPEmbedder) prepare(text string) string {
	if e.stripNewLines {
		return strings.ReplaceAll(text, "\n", " ")
	}
	return text
}

type embeddingRequest struct {
	Input any    `json:"input"`
	Model string `json:"model,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     *int      `json:"index"`
	} `json:"data"`
}

// request sends input (a string or []string) and expects want vectors back.
func (e *HTTPEmbedder) request(ctx context.Context, input any, want int) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: input, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	var vecs [][]float32
	err = e.policy.Do(ctx, e.logger, func(ctx context.Context) error {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		v, err := e.post(ctx, body, want)
		if err != nil {
			return err
		}
		vecs = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

func (e *HTTPEmbedder) post(ctx context.Context, body []byte, want int) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Code: resp.StatusCode,
			Body: strings.TrimSpace(string(msg)),
			Wait: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Data) != want {
		return nil, fmt.Errorf("expected %d embeddings, got %d", want, len(parsed.Data))
	}
	out := make([][]float32, want)
	for i, d := range parsed.Data {
		pos := i
		if d.Index != nil {
			pos = *d.Index
		}
		if pos < 0 || pos >= want || out[pos] != nil {
			return nil, fmt.Errorf("invalid embedding index %d", pos)
		}
		out[pos] = d.Embedding
	}
	return out, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
