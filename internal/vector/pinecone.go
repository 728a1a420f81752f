package vector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	defaultPineconeController = "https://api.pinecone.io"
	pineconeAPIVersion        = "2024-07"
	defaultPodType            = "p1.x1"
)

var _ Service = (*PineconeService)(nil)

// PineconeConfig configures a PineconeService. When Environment is set indexes are
// created as pod indexes in that environment, otherwise as serverless in Cloud/Region.
type PineconeConfig struct {
	APIKey        string
	Environment   string
	ControllerURL string
	Cloud         string
	Region        string
	Timeout       time.Duration
}

// PineconeService talks to the Pinecone control plane for index management and to
// each index's data plane host for records.
type PineconeService struct {
	cfg        PineconeConfig
	client     *restClient
	controller string
	logger     *zap.Logger

	mu    sync.Mutex
	hosts map[string]string
}

// PineconeOption configures a PineconeService.
type PineconeOption func(*PineconeService)

// WithPineconeHTTPClient overrides the HTTP client.
func WithPineconeHTTPClient(c *http.Client) PineconeOption {
	return func(s *PineconeService) { s.client.http = c }
}

// WithPineconeLogger sets the logger.
func WithPineconeLogger(l *zap.Logger) PineconeOption {
	return func(s *PineconeService) { s.logger = utils.OrNop(l) }
}

// NewPineconeService creates a Pinecone client. An API key is required.
func NewPineconeService(cfg PineconeConfig, opts ...PineconeOption) (*PineconeService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone api key is required")
	}
	controller := strings.TrimRight(cfg.ControllerURL, "/")
	if controller == "" {
		controller = defaultPineconeController
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s := &PineconeService{
		cfg: cfg,
		client: &restClient{
			http: &http.Client{Timeout: timeout},
			headers: map[string]string{
				"Api-Key":                cfg.APIKey,
				"X-Pinecone-API-Version": pineconeAPIVersion,
			},
		},
		controller: controller,
		logger:     zap.NewNop(),
		hosts:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type pineconeIndex struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Dimension int    `json:"dimension,omitempty"`
	Metric    string `json:"metric,omitempty"`
}

// ListIndexes returns the names of all indexes in the project.
func (s *PineconeService) ListIndexes(ctx context.Context) ([]string, error) {
	var resp struct {
		Indexes []pineconeIndex `json:"indexes"`
	}
	if err := s.client.do(ctx, "list indexes", http.MethodGet, s.controller+"/indexes", nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Indexes))
	s.mu.Lock()
	for _, idx := range resp.Indexes {
		names = append(names, idx.Name)
		if idx.Host != "" {
			s.hosts[idx.Name] = idx.Host
		}
	}
	s.mu.Unlock()
	return names, nil
}

// CreateIndex creates an index. The call returns before the index is ready.
func (s *PineconeService) CreateIndex(ctx context.Context, spec IndexSpec) error {
	metric := spec.Metric
	if metric == "" {
		metric = MetricCosine
	}
	body := map[string]any{
		"name":      spec.Name,
		"dimension": spec.Dimension,
		"metric":    string(metric),
	}
	if s.cfg.Environment != "" {
		body["spec"] = map[string]any{
			"pod": map[string]any{"environment": s.cfg.Environment, "pod_type": defaultPodType, "pods": 1},
		}
	} else {
		body["spec"] = map[string]any{
			"serverless": map[string]any{"cloud": s.cfg.Cloud, "region": s.cfg.Region},
		}
	}
	s.logger.Debug("creating pinecone index", zap.String("index", spec.Name), zap.Int("dimension", spec.Dimension))
	return s.client.do(ctx, "create index", http.MethodPost, s.controller+"/indexes", body, nil)
}

// host resolves and caches the data plane base URL for index.
func (s *PineconeService) host(ctx context.Context, index string) (string, error) {
	s.mu.Lock()
	h, ok := s.hosts[index]
	s.mu.Unlock()
	if !ok {
		var desc pineconeIndex
		if err := s.client.do(ctx, "describe index", http.MethodGet, s.controller+"/indexes/"+url.PathEscape(index), nil, &desc); err != nil {
			return "", err
		}
		if desc.Host == "" {
			return "", fmt.Errorf("index %q has no host yet", index)
		}
		h = desc.Host
		s.mu.Lock()
		s.hosts[index] = h
		s.mu.Unlock()
	}
	if !strings.Contains(h, "://") {
		h = "https://" + h
	}
	return strings.TrimRight(h, "/"), nil
}

type pineconeVector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Upsert writes records to index in a single request.
func (s *PineconeService) Upsert(ctx context.Context, index string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	h, err := s.host(ctx, index)
	if err != nil {
		return err
	}
	vectors := make([]pineconeVector, len(records))
	for i, r := range records {
		vectors[i] = pineconeVector{ID: r.ID, Values: r.Values, Metadata: r.Metadata}
	}
	var resp struct {
		UpsertedCount int `json:"upsertedCount"`
	}
	if err := s.client.do(ctx, "upsert", http.MethodPost, h+"/vectors/upsert", map[string]any{"vectors": vectors}, &resp); err != nil {
		return err
	}
	s.logger.Debug("upserted vectors", zap.String("index", index), zap.Int("count", resp.UpsertedCount))
	return nil
}

// Query runs a nearest-neighbour search against index.
func (s *PineconeService) Query(ctx context.Context, index string, req QueryRequest) ([]Match, error) {
	h, err := s.host(ctx, index)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"vector":          req.Vector,
		"topK":            req.TopK,
		"includeMetadata": req.IncludeMetadata,
		"includeValues":   req.IncludeValues,
	}
	var resp struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Values   []float32      `json:"values"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := s.client.do(ctx, "query", http.MethodPost, h+"/query", body, &resp); err != nil {
		return nil, err
	}
	matches := make([]Match, len(resp.Matches))
	for i, m := range resp.Matches {
		matches[i] = Match{ID: m.ID, Score: m.Score, Metadata: stringify(m.Metadata)}
		if len(m.Values) > 0 {
			matches[i].Values = m.Values
		}
	}
	return matches, nil
}

// Delete removes records by id.
func (s *PineconeService) Delete(ctx context.Context, index string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	h, err := s.host(ctx, index)
	if err != nil {
		return err
	}
	return s.client.do(ctx, "delete", http.MethodPost, h+"/vectors/delete", map[string]any{"ids": ids}, nil)
}
