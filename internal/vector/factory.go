package vector

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
)

// Provider names a vector service backend.
type Provider string

const (
	// ProviderPinecone uses a hosted Pinecone project. This is the default.
	ProviderPinecone Provider = "pinecone"
	// ProviderQdrant uses a Qdrant server over REST.
	ProviderQdrant Provider = "qdrant"
	// ProviderMemory keeps indexes in process, optionally persisted to MemoryPath.
	ProviderMemory Provider = "memory"
)

// NewService creates the vector service selected by cfg.Provider.
// Supported providers: "pinecone" (default), "qdrant", "memory".
func NewService(cfg config.VectorConfig, logger *zap.Logger) (Service, error) {
	switch Provider(cfg.Provider) {
	case ProviderPinecone, "":
		return NewPineconeService(PineconeConfig{
			APIKey:        cfg.Pinecone.APIKey,
			Environment:   cfg.Pinecone.Environment,
			ControllerURL: cfg.Pinecone.ControllerURL,
			Cloud:         cfg.Pinecone.Cloud,
			Region:        cfg.Pinecone.Region,
		}, WithPineconeLogger(logger))
	case ProviderQdrant:
		return NewQdrantService(cfg.Qdrant.URL, cfg.Qdrant.APIKey, 0, WithQdrantLogger(logger))
	case ProviderMemory:
		svc := NewMemoryService()
		if err := svc.Load(cfg.MemoryPath); err != nil {
			return nil, fmt.Errorf("failed to load memory index: %w", err)
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unknown vector provider: %s (supported: pinecone, qdrant, memory)", cfg.Provider)
	}
}

// InitDelay is how long to wait after creating an index before using it.
// In-process indexes are ready immediately.
func InitDelay(cfg config.VectorConfig) time.Duration {
	if Provider(cfg.Provider) == ProviderMemory {
		return 0
	}
	return cfg.InitTimeout
}

// Persist saves svc to path when it is an in-process service. Other services are a no-op.
func Persist(svc Service, path string) error {
	if m, ok := svc.(*MemoryService); ok {
		return m.Save(path)
	}
	return nil
}
