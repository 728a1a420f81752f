// Package embedding turns text into vectors through a remote HTTP endpoint.
package embedding

import "context"

// Embedder produces vector embeddings for text.
// EmbedDocuments returns one vector per input text, in input order.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}
