package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

const testIndex = "docs"

// spyService records the last query request.
type spyService struct {
	*vector.MemoryService
	last vector.QueryRequest
}

func (s *spyService) Query(ctx context.Context, index string, req vector.QueryRequest) ([]vector.Match, error) {
	s.last = req
	return s.MemoryService.Query(ctx, index, req)
}

func setup(t *testing.T, docs ...models.Document) (*spyService, *embedding.MockEmbedder) {
	t.Helper()
	ctx := context.Background()
	mem := vector.NewMemoryService()
	if err := mem.CreateIndex(ctx, vector.IndexSpec{Name: testIndex, Dimension: 8}); err != nil {
		t.Fatal(err)
	}
	emb := embedding.NewMockEmbedder(8)
	idx := indexer.NewIndexer(emb, mem, testIndex, indexer.NewChunker(1000, 0))
	for _, doc := range docs {
		if _, err := idx.IngestDocument(ctx, doc); err != nil {
			t.Fatal(err)
		}
	}
	return &spyService{MemoryService: mem}, emb
}

func TestEngine_Ask_NoMatches(t *testing.T) {
	svc, emb := setup(t)
	completer := llm.NewMockCompleter("should not be used")
	engine := NewEngine(emb, svc, completer, testIndex, nil, nil)

	answer, err := engine.Ask(context.Background(), "what is kotae?")
	if err != nil {
		t.Fatal(err)
	}
	if answer.Matched {
		t.Error("expected unmatched answer")
	}
	if answer.Text != "" {
		t.Errorf("Text = %q, want empty", answer.Text)
	}
	if completer.Calls() != 0 {
		t.Errorf("completer called %d times, want 0", completer.Calls())
	}
}

func TestEngine_Ask_StuffsAllMatches(t *testing.T) {
	svc, emb := setup(t,
		models.Document{Source: "a.md", Content: "alpha facts"},
		models.Document{Source: "b.md", Content: "beta facts"},
		models.Document{Source: "c.md", Content: "gamma facts"},
	)
	completer := llm.NewMockCompleter("  the answer \n")
	engine := NewEngine(emb, svc, completer, testIndex, &config.QueryConfig{}, nil)

	answer, err := engine.Ask(context.Background(), " which facts? ")
	if err != nil {
		t.Fatal(err)
	}
	if !answer.Matched || answer.Matches != 3 {
		t.Fatalf("answer = %+v, want 3 matches", answer)
	}
	if answer.Text != "the answer" {
		t.Errorf("Text = %q", answer.Text)
	}
	if answer.Question != "which facts?" {
		t.Errorf("Question = %q", answer.Question)
	}
	if len(answer.Sources) != 3 {
		t.Errorf("Sources = %v", answer.Sources)
	}

	if completer.Calls() != 1 {
		t.Fatalf("completer called %d times, want 1", completer.Calls())
	}
	req := completer.Requests()[0]
	if len(req.Context) != 1 {
		t.Fatalf("context documents = %d, want 1", len(req.Context))
	}
	for _, want := range []string{"alpha facts", "beta facts", "gamma facts"} {
		if !strings.Contains(req.Context[0], want) {
			t.Errorf("context %q missing %q", req.Context[0], want)
		}
	}
	if req.Question != "which facts?" {
		t.Errorf("Question = %q", req.Question)
	}

	if svc.last.TopK != DefaultTopK || !svc.last.IncludeMetadata || !svc.last.IncludeValues {
		t.Errorf("query request = %+v", svc.last)
	}
}

func TestEngine_Ask_TopK(t *testing.T) {
	svc, emb := setup(t,
		models.Document{Source: "a.md", Content: "one"},
		models.Document{Source: "b.md", Content: "two"},
		models.Document{Source: "c.md", Content: "three"},
	)
	engine := NewEngine(emb, svc, llm.NewMockCompleter("ok"), testIndex, &config.QueryConfig{TopK: 2}, nil)
	answer, err := engine.Ask(context.Background(), "count")
	if err != nil {
		t.Fatal(err)
	}
	if answer.Matches != 2 {
		t.Errorf("Matches = %d, want 2", answer.Matches)
	}
}

func TestEngine_Ask_MaxContextChars(t *testing.T) {
	svc, emb := setup(t, models.Document{Source: "long.md", Content: strings.Repeat("x", 50)})
	completer := llm.NewMockCompleter("ok")
	engine := NewEngine(emb, svc, completer, testIndex, &config.QueryConfig{MaxContextChars: 20}, nil)

	answer, err := engine.Ask(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if !answer.Truncated {
		t.Error("expected truncated context")
	}
	if got := completer.Requests()[0].Context[0]; got != strings.Repeat("x", 20) {
		t.Errorf("context = %q", got)
	}
}

func TestEngine_Ask_Errors(t *testing.T) {
	svc, emb := setup(t, models.Document{Source: "a.md", Content: "alpha"})

	engine := NewEngine(emb, svc, llm.NewMockCompleter("ok"), testIndex, nil, nil)
	if _, err := engine.Ask(context.Background(), "   "); err == nil {
		t.Error("expected error for empty question")
	}

	failing := &llm.MockCompleter{Err: errors.New("model overloaded")}
	engine = NewEngine(emb, svc, failing, testIndex, nil, nil)
	_, err := engine.Ask(context.Background(), "alpha?")
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("err = %v, want completion error", err)
	}

	engine = NewEngine(emb, svc, llm.NewMockCompleter("ok"), "missing-index", nil, nil)
	if _, err := engine.Ask(context.Background(), "alpha?"); err == nil {
		t.Error("expected error for unknown index")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine = NewEngine(emb, svc, llm.NewMockCompleter("ok"), testIndex, nil, nil)
	if _, err := engine.Ask(ctx, "alpha?"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSources_Dedup(t *testing.T) {
	matches := []vector.Match{
		{Metadata: map[string]string{models.MetaSource: "a"}},
		{Metadata: map[string]string{models.MetaSource: "b"}},
		{Metadata: map[string]string{models.MetaSource: "a"}},
		{Metadata: map[string]string{}},
	}
	got := sources(matches)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("sources = %v", got)
	}
}
