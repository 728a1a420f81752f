package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/query"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if present; when neither exists the built-in defaults are
// used so the tool can run from environment variables alone. A .env file in the
// current directory is loaded before the environment overlay is applied.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}
	cfg, resolved, err := readConfig(path)
	if err != nil {
		return nil, "", err
	}
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, resolved, nil
}

func readConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// writeConfig saves cfg to path with every API key cleared; keys stay in the
// environment. An existing file is never overwritten.
func writeConfig(path string, cfg *config.Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	out := *cfg
	out.Embedding.APIKey = ""
	out.Vector.Pinecone.APIKey = ""
	out.Vector.Qdrant.APIKey = ""
	out.LLM.APIKey = ""
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return config.Save(path, &out)
}

// Components holds the wired pipelines for one command run.
type Components struct {
	Config    *config.Config
	Ledger    storage.Ledger
	Vectors   vector.Service
	Embedder  embedding.Embedder
	Completer llm.Completer // nil unless requested
	Indexer   *indexer.Indexer
	Engine    *query.Engine // nil unless a completer was requested
	logger    *zap.Logger
}

// Close persists an in-process index and closes the ledger.
func (c *Components) Close() {
	if c.Config.Vector.MemoryPath != "" {
		if err := vector.Persist(c.Vectors, c.Config.Vector.MemoryPath); err != nil {
			c.logger.Warn("vector index save failed", zap.String("path", c.Config.Vector.MemoryPath), zap.Error(err))
		}
	}
	if c.Ledger != nil {
		_ = c.Ledger.Close()
	}
}

// Provision ensures the configured index exists.
func (c *Components) Provision(ctx context.Context) (bool, error) {
	p := vector.NewProvisioner(c.Vectors,
		vector.WithInitDelay(vector.InitDelay(c.Config.Vector)),
		vector.WithMetric(vector.Metric(c.Config.Vector.Metric)),
		vector.WithProvisionerLogger(c.logger),
	)
	return p.EnsureIndex(ctx, c.Config.Vector.IndexName, c.Config.Embedding.Dimensions)
}

// initializeComponents wires the ledger, vector service, embedder and indexer. The
// completer and query engine are only built when withLLM is set, so ingestion does
// not need language-model credentials.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, withLLM bool) (*Components, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	ledger, err := storage.NewSQLiteLedger(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	vectors, err := vector.NewService(cfg.Vector, logger)
	if err != nil {
		_ = ledger.Close()
		return nil, fmt.Errorf("failed to initialize vector service: %w", err)
	}
	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		_ = ledger.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	idx := indexer.NewIndexer(
		embedder,
		vectors,
		cfg.Vector.IndexName,
		indexer.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap),
		indexer.WithLedger(ledger),
		indexer.WithExtractor(extract.NewExtractor()),
		indexer.WithBatchSize(cfg.Ingest.UpsertBatchSize),
		indexer.WithLogger(logger),
	)
	c := &Components{
		Config:   cfg,
		Ledger:   ledger,
		Vectors:  vectors,
		Embedder: embedder,
		Indexer:  idx,
		logger:   logger,
	}
	if withLLM {
		completer, err := llm.New(ctx, cfg.LLM, logger)
		if err != nil {
			_ = ledger.Close()
			return nil, fmt.Errorf("failed to initialize completer: %w", err)
		}
		c.Completer = completer
		c.Engine = query.NewEngine(embedder, vectors, completer, cfg.Vector.IndexName, &cfg.Query, logger)
	}
	logger.Debug("components initialized",
		zap.String("vector_provider", cfg.Vector.Provider),
		zap.String("index", cfg.Vector.IndexName),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Bool("llm", withLLM))
	return c, nil
}
