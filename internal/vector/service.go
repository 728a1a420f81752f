// Package vector talks to vector index services and provisions indexes.
package vector

import (
	"context"
	"fmt"
)

// Metric is the similarity function an index is created with.
type Metric string

const (
	MetricCosine     Metric = "cosine"
	MetricDotProduct Metric = "dotproduct"
	MetricEuclidean  Metric = "euclidean"
)

// IndexSpec describes an index to create.
type IndexSpec struct {
	Name      string
	Dimension int
	Metric    Metric
}

// Record is one vector written to an index. Metadata values are strings because
// remote stores only accept scalar metadata.
type Record struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Match is one query hit, ordered by descending Score.
type Match struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Values   []float32         `json:"values,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// QueryRequest asks for the TopK nearest records to Vector.
type QueryRequest struct {
	Vector          []float32
	TopK            int
	IncludeMetadata bool
	IncludeValues   bool
}

// Service is a vector index service. Upsert overwrites records with the same id.
type Service interface {
	ListIndexes(ctx context.Context) ([]string, error)
	CreateIndex(ctx context.Context, spec IndexSpec) error
	Upsert(ctx context.Context, index string, records []Record) error
	Query(ctx context.Context, index string, req QueryRequest) ([]Match, error)
	Delete(ctx context.Context, index string, ids []string) error
}

// APIError is a non-2xx answer from a remote vector service.
type APIError struct {
	Op   string
	Code int
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Body)
}

// StatusCode returns the HTTP status.
func (e *APIError) StatusCode() int { return e.Code }
