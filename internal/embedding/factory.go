package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
)

// New creates the embedder selected by cfg.Provider: "http" (default) or "mock".
// Query embeddings are cached when cfg.CacheSize is positive.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	var e Embedder
	switch cfg.Provider {
	case "http", "":
		h, err := NewHTTPEmbedder(HTTPConfig{
			Origin:            cfg.Origin,
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			BatchSize:         cfg.BatchSize,
			MaxConcurrency:    cfg.MaxConcurrency,
			StripNewLines:     cfg.StripNewLinesOrDefault(),
			MaxRetries:        cfg.MaxRetries,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		e = h
	case "mock":
		e = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: http, mock)", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}
