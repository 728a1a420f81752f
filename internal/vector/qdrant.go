package vector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
)

// qdrantIDKey is the payload key holding the caller's record id. Qdrant only accepts
// integer or UUID point ids, so points are keyed by a UUID derived from it.
const qdrantIDKey = "_id"

var _ Service = (*QdrantService)(nil)

// QdrantService stores records as points in Qdrant collections over the REST API.
type QdrantService struct {
	baseURL string
	client  *restClient
	logger  *zap.Logger
}

// QdrantOption configures a QdrantService.
type QdrantOption func(*QdrantService)

// WithQdrantHTTPClient overrides the HTTP client.
func WithQdrantHTTPClient(c *http.Client) QdrantOption {
	return func(s *QdrantService) { s.client.http = c }
}

// WithQdrantLogger sets the logger.
func WithQdrantLogger(l *zap.Logger) QdrantOption {
	return func(s *QdrantService) { s.logger = utils.OrNop(l) }
}

// NewQdrantService creates a Qdrant client for the server at baseURL.
func NewQdrantService(baseURL, apiKey string, timeout time.Duration, opts ...QdrantOption) (*QdrantService, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	headers := map[string]string{}
	if apiKey != "" {
		headers["api-key"] = apiKey
	}
	s := &QdrantService{
		baseURL: baseURL,
		client:  &restClient{http: &http.Client{Timeout: timeout}, headers: headers},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PointID maps a record id to the UUID used as the Qdrant point id.
func PointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

func (s *QdrantService) collection(name string) string {
	return s.baseURL + "/collections/" + url.PathEscape(name)
}

func qdrantDistance(m Metric) string {
	switch m {
	case MetricDotProduct:
		return "Dot"
	case MetricEuclidean:
		return "Euclid"
	default:
		return "Cosine"
	}
}

// ListIndexes returns the collection names.
func (s *QdrantService) ListIndexes(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.client.do(ctx, "list collections", http.MethodGet, s.baseURL+"/collections", nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Result.Collections))
	for _, c := range resp.Result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

// CreateIndex creates a collection with a single unnamed vector.
func (s *QdrantService) CreateIndex(ctx context.Context, spec IndexSpec) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     spec.Dimension,
			"distance": qdrantDistance(spec.Metric),
		},
	}
	s.logger.Debug("creating qdrant collection", zap.String("collection", spec.Name), zap.Int("dimension", spec.Dimension))
	return s.client.do(ctx, "create collection", http.MethodPut, s.collection(spec.Name), body, nil)
}

// Upsert writes records as points and waits for the write to be applied.
func (s *QdrantService) Upsert(ctx context.Context, index string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	type point struct {
		ID      string            `json:"id"`
		Vector  []float32         `json:"vector"`
		Payload map[string]string `json:"payload"`
	}
	points := make([]point, len(records))
	for i, r := range records {
		payload := make(map[string]string, len(r.Metadata)+1)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[qdrantIDKey] = r.ID
		points[i] = point{ID: PointID(r.ID), Vector: r.Values, Payload: payload}
	}
	return s.client.do(ctx, "upsert points", http.MethodPut, s.collection(index)+"/points?wait=true", map[string]any{"points": points}, nil)
}

// Query searches the collection for the nearest points.
func (s *QdrantService) Query(ctx context.Context, index string, req QueryRequest) ([]Match, error) {
	body := map[string]any{
		"vector":       req.Vector,
		"limit":        req.TopK,
		"with_payload": true,
		"with_vector":  req.IncludeValues,
	}
	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
			Vector  []float32      `json:"vector"`
		} `json:"result"`
	}
	if err := s.client.do(ctx, "search points", http.MethodPost, s.collection(index)+"/points/search", body, &resp); err != nil {
		return nil, err
	}
	matches := make([]Match, len(resp.Result))
	for i, p := range resp.Result {
		meta := stringify(p.Payload)
		id, ok := meta[qdrantIDKey]
		if !ok {
			id = fmt.Sprint(p.ID)
		}
		delete(meta, qdrantIDKey)
		matches[i] = Match{ID: id, Score: p.Score}
		if req.IncludeMetadata {
			matches[i].Metadata = meta
		}
		if req.IncludeValues {
			matches[i].Values = p.Vector
		}
	}
	return matches, nil
}

// Delete removes points by record id.
func (s *QdrantService) Delete(ctx context.Context, index string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, len(ids))
	for i, id := range ids {
		points[i] = PointID(id)
	}
	return s.client.do(ctx, "delete points", http.MethodPost, s.collection(index)+"/points/delete?wait=true", map[string]any{"points": points}, nil)
}
