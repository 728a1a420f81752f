package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process environment.
// Variables already set are not overridden. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays credentials and service locations from lookup onto cfg.
// lookup is usually os.LookupEnv; tests pass a map-backed function.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PINECONE_API_KEY", &cfg.Vector.Pinecone.APIKey)
	str("PINECONE_ENVIRONMENT", &cfg.Vector.Pinecone.Environment)
	str("PINECONE_INDEX_NAME", &cfg.Vector.IndexName)
	str("QDRANT_URL", &cfg.Vector.Qdrant.URL)
	str("QDRANT_API_KEY", &cfg.Vector.Qdrant.APIKey)
	str("EMBEDDINGS_ORIGIN", &cfg.Embedding.Origin)
	str("EMBEDDINGS_API_KEY", &cfg.Embedding.APIKey)

	switch cfg.LLM.Provider {
	case "anthropic":
		str("ANTHROPIC_API_KEY", &cfg.LLM.APIKey)
	case "gemini":
		str("GEMINI_API_KEY", &cfg.LLM.APIKey)
	default:
		str("OPENAI_API_KEY", &cfg.LLM.APIKey)
	}

	if v, ok := lookup("INDEX_INIT_TIMEOUT"); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid INDEX_INIT_TIMEOUT %q: %w", v, err)
		}
		cfg.Vector.InitTimeout = time.Duration(ms) * time.Millisecond
	}
	if v, ok := lookup("KOTAE_DEBUG"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid KOTAE_DEBUG %q: %w", v, err)
		}
		cfg.Debug = b
	}
	return nil
}
