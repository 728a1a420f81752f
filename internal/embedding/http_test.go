package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/retry"
)

// fakeEmbeddings serves /v1/embeddings. Each text "doc-N" embeds to [N, len(text)],
// and results are returned in reverse order with explicit indexes.
type fakeEmbeddings struct {
	mu        sync.Mutex
	requests  int
	inputs    [][]string
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	delay     time.Duration
	failFirst int
	status    int
}

func (f *fakeEmbeddings) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/embeddings" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxFlight.Load()
		if n <= m || f.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.requests++
	fail := f.requests <= f.failFirst
	f.mu.Unlock()
	if fail {
		code := f.status
		if code == 0 {
			code = http.StatusServiceUnavailable
		}
		http.Error(w, "busy", code)
		return
	}

	var body struct {
		Input json.RawMessage `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var texts []string
	if err := json.Unmarshal(body.Input, &texts); err != nil {
		var single string
		if err := json.Unmarshal(body.Input, &single); err != nil {
			http.Error(w, "bad input", http.StatusBadRequest)
			return
		}
		texts = []string{single}
	}
	f.mu.Lock()
	f.inputs = append(f.inputs, texts)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	type item struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	}
	data := make([]item, 0, len(texts))
	for i := len(texts) - 1; i >= 0; i-- {
		num, _ := strconv.Atoi(strings.TrimPrefix(texts[i], "doc-"))
		data = append(data, item{Embedding: []float32{float32(num), float32(len(texts[i]))}, Index: i})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (f *fakeEmbeddings) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeEmbeddings) seen() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.inputs...)
}

func fastPolicy(attempts int) *retry.Policy {
	p := retry.NewPolicy(attempts)
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = 5 * time.Millisecond
	return p
}

func newTestEmbedder(t *testing.T, srv *httptest.Server, cfg HTTPConfig) *HTTPEmbedder {
	t.Helper()
	cfg.Origin = srv.URL
	e, err := NewHTTPEmbedder(cfg, WithRetryPolicy(fastPolicy(4)), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	return e
}

func docs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("doc-%d", i)
	}
	return out
}

func TestHTTPEmbedder_EmbedDocumentsPreservesOrder(t *testing.T) {
	const batch = 4
	for _, n := range []int{0, 1, batch - 1, batch, batch + 1, 3*batch + 2} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			fake := &fakeEmbeddings{}
			srv := httptest.NewServer(fake)
			defer srv.Close()
			e := newTestEmbedder(t, srv, HTTPConfig{BatchSize: batch, MaxConcurrency: 3})

			vecs, err := e.EmbedDocuments(context.Background(), docs(n))
			require.NoError(t, err)
			require.Len(t, vecs, n)
			for i, v := range vecs {
				require.Len(t, v, 2)
				assert.Equal(t, float32(i), v[0], "vector %d out of place", i)
			}
			assert.Equal(t, (n+batch-1)/batch, fake.calls())
			for _, in := range fake.seen() {
				assert.LessOrEqual(t, len(in), batch)
			}
		})
	}
}

func TestHTTPEmbedder_BoundedConcurrency(t *testing.T) {
	fake := &fakeEmbeddings{delay: 20 * time.Millisecond}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	e := newTestEmbedder(t, srv, HTTPConfig{BatchSize: 1, MaxConcurrency: 2})

	_, err := e.EmbedDocuments(context.Background(), docs(8))
	require.NoError(t, err)
	assert.Equal(t, 8, fake.calls())
	assert.LessOrEqual(t, int(fake.maxFlight.Load()), 2)
}

func TestHTTPEmbedder_EmbedQuery(t *testing.T) {
	var (
		mu      sync.Mutex
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5,0.25]}]}`))
	}))
	defer srv.Close()
	e := newTestEmbedder(t, srv, HTTPConfig{APIKey: "secret", Model: "bge-small", StripNewLines: true})

	v, err := e.EmbedQuery(context.Background(), "line one\nline two")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, v)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "line one line two", gotBody["input"])
	assert.Equal(t, "bge-small", gotBody["model"])
}

func TestHTTPEmbedder_KeepsNewLinesWhenDisabled(t *testing.T) {
	fake := &fakeEmbeddings{}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	e := newTestEmbedder(t, srv, HTTPConfig{StripNewLines: false})

	_, err := e.EmbedDocuments(context.Background(), []string{"doc-1\nmore"})
	require.NoError(t, err)
	inputs := fake.seen()
	require.Len(t, inputs, 1)
	assert.Equal(t, "doc-1\nmore", inputs[0][0])
}

func TestHTTPEmbedder_RetriesTransientFailures(t *testing.T) {
	fake := &fakeEmbeddings{failFirst: 2}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	e := newTestEmbedder(t, srv, HTTPConfig{})

	vecs, err := e.EmbedDocuments(context.Background(), docs(3))
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	assert.Equal(t, 3, fake.calls())
}

func TestHTTPEmbedder_FailsAfterRetriesExhausted(t *testing.T) {
	fake := &fakeEmbeddings{failFirst: 100}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	e := newTestEmbedder(t, srv, HTTPConfig{})

	vecs, err := e.EmbedDocuments(context.Background(), docs(2))
	require.Error(t, err)
	assert.Nil(t, vecs)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode())
	assert.Equal(t, 4, fake.calls())
}

func TestHTTPEmbedder_ClientErrorIsNotRetried(t *testing.T) {
	fake := &fakeEmbeddings{failFirst: 100, status: http.StatusUnauthorized}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	e := newTestEmbedder(t, srv, HTTPConfig{})

	_, err := e.EmbedQuery(context.Background(), "doc-1")
	require.Error(t, err)
	assert.Equal(t, 1, fake.calls())
}

func TestHTTPEmbedder_EmptyRetryPolicyStillRequests(t *testing.T) {
	fake := &fakeEmbeddings{}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	e, err := NewHTTPEmbedder(HTTPConfig{Origin: srv.URL}, WithRetryPolicy(&retry.Policy{}))
	require.NoError(t, err)

	v, err := e.EmbedQuery(context.Background(), "doc-7")
	require.NoError(t, err)
	assert.Equal(t, []float32{7, 5}, v)
	assert.Equal(t, 1, fake.calls())
}

func TestHTTPEmbedder_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1]}]}`))
	}))
	defer srv.Close()
	e := newTestEmbedder(t, srv, HTTPConfig{})

	_, err := e.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 2 embeddings")
}

func TestNewHTTPEmbedder_RequiresOrigin(t *testing.T) {
	_, err := NewHTTPEmbedder(HTTPConfig{})
	require.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	assert.Greater(t, parseRetryAfter(future), 50*time.Minute)
}
