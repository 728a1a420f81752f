package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

const testIndex = "docs"

// recordingService wraps a MemoryService and records upsert batch sizes and deletes.
type recordingService struct {
	*vector.MemoryService
	mu        sync.Mutex
	batches   []int
	deleted   []string
	failAfter int // fail the upsert after this many successful ones; 0 disables
}

func newRecordingService(t *testing.T) *recordingService {
	t.Helper()
	mem := vector.NewMemoryService()
	if err := mem.CreateIndex(context.Background(), vector.IndexSpec{Name: testIndex, Dimension: 4}); err != nil {
		t.Fatal(err)
	}
	return &recordingService{MemoryService: mem}
}

func (r *recordingService) Upsert(ctx context.Context, index string, records []vector.Record) error {
	r.mu.Lock()
	if r.failAfter > 0 && len(r.batches) >= r.failAfter {
		r.mu.Unlock()
		return errors.New("upsert rejected")
	}
	r.batches = append(r.batches, len(records))
	r.mu.Unlock()
	return r.MemoryService.Upsert(ctx, index, records)
}

func (r *recordingService) Delete(ctx context.Context, index string, ids []string) error {
	r.mu.Lock()
	r.deleted = append(r.deleted, ids...)
	r.mu.Unlock()
	return r.MemoryService.Delete(ctx, index, ids)
}

// paragraphs returns n chunks worth of text for a chunker of size 10: each
// paragraph is exactly 10 runes including its separator.
func paragraphs(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "para%04d\n\n", i)
	}
	return b.String()
}

func newTestIndexer(t *testing.T, svc vector.Service, opts ...IndexerOption) (*Indexer, *embedding.MockEmbedder) {
	t.Helper()
	emb := embedding.NewMockEmbedder(4)
	opts = append([]IndexerOption{WithLogger(zap.NewNop())}, opts...)
	return NewIndexer(emb, svc, testIndex, NewChunker(10, 0), opts...), emb
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{"txt", "md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func TestIngestDocument_Batches(t *testing.T) {
	tests := []struct {
		chunks  int
		batches []int
	}{
		{1, []int{1}},
		{99, []int{99}},
		{100, []int{100}},
		{101, []int{100, 1}},
		{200, []int{100, 100}},
		{250, []int{100, 100, 50}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.chunks), func(t *testing.T) {
			svc := newRecordingService(t)
			idx, emb := newTestIndexer(t, svc)

			res, err := idx.IngestDocument(context.Background(), models.Document{Source: "/data/a.md", Content: paragraphs(tt.chunks)})
			if err != nil {
				t.Fatal(err)
			}
			if res.Chunks != tt.chunks || res.Batches != len(tt.batches) {
				t.Errorf("result = %d chunks in %d batches, want %d in %d", res.Chunks, res.Batches, tt.chunks, len(tt.batches))
			}
			if !reflect.DeepEqual(svc.batches, tt.batches) {
				t.Errorf("upsert batches = %v, want %v", svc.batches, tt.batches)
			}
			if got := svc.Size(testIndex); got != tt.chunks {
				t.Errorf("index size = %d, want %d", got, tt.chunks)
			}
			if emb.Calls() != 1 {
				t.Errorf("embed calls = %d, want all chunks embedded in one call", emb.Calls())
			}
		})
	}
}

func TestIngestDocument_RecordShape(t *testing.T) {
	ctx := context.Background()
	svc := newRecordingService(t)
	idx, _ := newTestIndexer(t, svc)
	doc := models.Document{
		Source:   "/data/notes.md",
		Content:  "para0000\n\npara0001\n\n",
		Metadata: map[string]string{"format": "md"},
	}
	if _, err := idx.IngestDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	q, err := embedding.NewMockEmbedder(4).EmbedQuery(ctx, "para0001\n\n")
	if err != nil {
		t.Fatal(err)
	}
	matches, err := svc.Query(ctx, testIndex, vector.QueryRequest{Vector: q, TopK: 1, IncludeMetadata: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}

	m := matches[0]
	if m.ID != "/data/notes.md_1" {
		t.Errorf("id = %q, want /data/notes.md_1", m.ID)
	}
	tests := []struct {
		key  string
		want string
	}{
		{models.MetaText, "para0001\n\n"},
		{models.MetaSource, "/data/notes.md"},
		{"format", "md"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := m.Metadata[tt.key]; got != tt.want {
				t.Errorf("metadata[%q] = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
	loc, err := models.ParseLocation(m.Metadata[models.MetaLoc])
	if err != nil {
		t.Fatal(err)
	}
	want := models.Location{Lines: models.LineRange{From: 3, To: 4}, Offset: 10}
	if loc != want {
		t.Errorf("loc = %+v, want %+v", loc, want)
	}
}

func TestIngestDocument_Idempotent(t *testing.T) {
	svc := newRecordingService(t)
	idx, _ := newTestIndexer(t, svc)
	doc := models.Document{Source: "s", Content: paragraphs(7)}
	for i := 0; i < 2; i++ {
		if _, err := idx.IngestDocument(context.Background(), doc); err != nil {
			t.Fatal(err)
		}
	}
	if got := svc.Size(testIndex); got != 7 {
		t.Errorf("index size = %d, want 7", got)
	}
}

func TestIngestDocument_EmptyDocument(t *testing.T) {
	svc := newRecordingService(t)
	idx, emb := newTestIndexer(t, svc)
	res, err := idx.IngestDocument(context.Background(), models.Document{Source: "blank", Content: " \n\t "})
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 0 || emb.Calls() != 0 || len(svc.batches) != 0 {
		t.Errorf("chunks=%d embed calls=%d batches=%v, want nothing", res.Chunks, emb.Calls(), svc.batches)
	}
}

func TestIngestDocument_UpsertFailureKeepsEarlierBatches(t *testing.T) {
	svc := newRecordingService(t)
	svc.failAfter = 1
	idx, _ := newTestIndexer(t, svc)

	_, err := idx.IngestDocument(context.Background(), models.Document{Source: "big", Content: paragraphs(150)})
	if err == nil || !strings.Contains(err.Error(), "batch 2") {
		t.Fatalf("err = %v, want failure on batch 2", err)
	}
	if got := svc.Size(testIndex); got != 100 {
		t.Errorf("index size = %d, want the 100 records of batch 1", got)
	}
}

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}

func TestIngestDocument_EmbeddingFailure(t *testing.T) {
	svc := newRecordingService(t)
	idx := NewIndexer(failingEmbedder{}, svc, testIndex, NewChunker(10, 0))
	_, err := idx.IngestDocument(context.Background(), models.Document{Source: "x", Content: "hello"})
	if err == nil || !strings.Contains(err.Error(), "failed to generate embeddings") {
		t.Fatalf("err = %v, want embedding failure", err)
	}
	if len(svc.batches) != 0 {
		t.Errorf("batches = %v, want none", svc.batches)
	}
}

func TestIngestDocument_BatchesDoNotSpanDocuments(t *testing.T) {
	svc := newRecordingService(t)
	idx, _ := newTestIndexer(t, svc)
	for _, doc := range []models.Document{
		{Source: "a", Content: paragraphs(3)},
		{Source: "b", Content: paragraphs(2)},
	} {
		if _, err := idx.IngestDocument(context.Background(), doc); err != nil {
			t.Fatal(err)
		}
	}
	if want := []int{3, 2}; !reflect.DeepEqual(svc.batches, want) {
		t.Errorf("batches = %v, want %v", svc.batches, want)
	}
}

func newLedger(t *testing.T) storage.Ledger {
	t.Helper()
	l, err := storage.NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestIngestFile_LedgerSkipAndShrink(t *testing.T) {
	dir := t.TempDir()
	svc := newRecordingService(t)
	ledger := newLedger(t)
	idx, emb := newTestIndexer(t, svc, WithLedger(ledger), WithExtractor(extract.NewExtractor()))
	ctx := context.Background()

	path := filepath.Join(dir, "doc.txt")
	writeFile(t, path, paragraphs(5))
	abs, _ := filepath.Abs(path)

	t.Run("first ingestion", func(t *testing.T) {
		res, err := idx.IngestFile(ctx, path, []string{".txt"})
		if err != nil {
			t.Fatal(err)
		}
		if res.Chunks != 5 || res.Source != abs {
			t.Errorf("result = %+v, want 5 chunks from %s", res, abs)
		}
	})

	t.Run("unchanged file is skipped", func(t *testing.T) {
		res, err := idx.IngestFile(ctx, path, []string{".txt"})
		if err != nil {
			t.Fatal(err)
		}
		if !res.Skipped || emb.Calls() != 1 {
			t.Errorf("skipped=%v embed calls=%d, want skipped without embedding", res.Skipped, emb.Calls())
		}
	})

	t.Run("shrunk file drops its tail", func(t *testing.T) {
		writeFile(t, path, paragraphs(2))
		later := time.Now().Add(time.Minute)
		if err := os.Chtimes(path, later, later); err != nil {
			t.Fatal(err)
		}
		res, err := idx.IngestFile(ctx, path, []string{".txt"})
		if err != nil {
			t.Fatal(err)
		}
		if res.Skipped || res.Chunks != 2 || res.Removed != 3 {
			t.Errorf("result = %+v, want 2 chunks and 3 removed", res)
		}
		if got := svc.Size(testIndex); got != 2 {
			t.Errorf("index size = %d, want 2", got)
		}
		deleted := append([]string(nil), svc.deleted...)
		sort.Strings(deleted)
		if want := []string{abs + "_2", abs + "_3", abs + "_4"}; !reflect.DeepEqual(deleted, want) {
			t.Errorf("deleted = %v, want %v", deleted, want)
		}
		rec, err := ledger.GetSource(ctx, testIndex, abs)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Chunks != 2 {
			t.Errorf("ledger chunks = %d, want 2", rec.Chunks)
		}
	})
}

func TestRemoveSource(t *testing.T) {
	dir := t.TempDir()
	svc := newRecordingService(t)
	ledger := newLedger(t)
	idx, _ := newTestIndexer(t, svc, WithLedger(ledger))
	ctx := context.Background()

	path := filepath.Join(dir, "note.md")
	writeFile(t, path, paragraphs(4))
	res, err := idx.IngestFile(ctx, path, nil)
	if err != nil {
		t.Fatal(err)
	}

	n, err := idx.RemoveSource(ctx, res.Source)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 || svc.Size(testIndex) != 0 {
		t.Errorf("removed %d, index size %d, want 4 and 0", n, svc.Size(testIndex))
	}
	if _, err := ledger.GetSource(ctx, testIndex, res.Source); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSource after remove: err = %v, want ErrNotFound", err)
	}

	n, err = idx.RemoveSource(ctx, "/never/seen")
	if err != nil || n != 0 {
		t.Errorf("RemoveSource(unknown) = %d, %v, want 0, nil", n, err)
	}
}

func TestRemoveSource_RequiresLedger(t *testing.T) {
	idx, _ := newTestIndexer(t, newRecordingService(t))
	if _, err := idx.RemoveSource(context.Background(), "x"); err == nil {
		t.Error("expected error without a ledger")
	}
}

func TestIngestFile_Errors(t *testing.T) {
	dir := t.TempDir()
	idx, _ := newTestIndexer(t, newRecordingService(t))
	script := filepath.Join(dir, "script.sh")
	writeFile(t, script, "#!/bin/bash")

	tests := []struct {
		name    string
		path    string
		allowed []string
	}{
		{"disallowed extension", script, []string{".txt", ".md"}},
		{"directory", dir, nil},
		{"missing file", filepath.Join(dir, "missing.txt"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := idx.IngestFile(context.Background(), tt.path, tt.allowed); err == nil {
				t.Errorf("IngestFile(%s) expected error", tt.path)
			}
		})
	}
}

func TestIngestFile_ExcelWithExtractor(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	svc := newRecordingService(t)
	emb := embedding.NewMockEmbedder(4)
	idx := NewIndexer(emb, svc, testIndex, NewChunker(1000, 0), WithExtractor(extract.NewExtractor()))

	path := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Excel searchable content")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	res, err := idx.IngestFile(ctx, path, []string{".xlsx"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 1 {
		t.Errorf("chunks = %d, want 1", res.Chunks)
	}

	const text = "Sheet1\nExcel searchable content"
	q, _ := emb.EmbedQuery(ctx, text)
	matches, err := svc.Query(ctx, testIndex, vector.QueryRequest{Vector: q, TopK: 1, IncludeMetadata: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if got := matches[0].Metadata[extract.MetaFormat]; got != "xlsx" {
		t.Errorf("format = %q, want xlsx", got)
	}
	if got := matches[0].Metadata[models.MetaText]; got != text {
		t.Errorf("text = %q, want %q", got, text)
	}
}

func TestIngestDirectory(t *testing.T) {
	dir := t.TempDir()
	svc := newRecordingService(t)
	idx, _ := newTestIndexer(t, svc)

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "a.txt"), "file a")
	writeFile(t, filepath.Join(dir, "b.txt"), "file b")
	writeFile(t, filepath.Join(sub, "c.txt"), "file c")
	writeFile(t, filepath.Join(dir, "skip.xyz"), "skip")

	results, err := idx.IngestDirectory(context.Background(), dir, []string{".txt"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 || svc.Size(testIndex) != 3 {
		t.Errorf("ingested %d files into %d records, want 3 and 3", len(results), svc.Size(testIndex))
	}

	if _, err := idx.IngestDirectory(context.Background(), filepath.Join(dir, "a.txt"), nil); err == nil {
		t.Error("expected error for a path that is not a directory")
	}
}

func TestIngest_TracksSourceInLedger(t *testing.T) {
	svc := newRecordingService(t)
	ledger := newLedger(t)
	idx, _ := newTestIndexer(t, svc, WithLedger(ledger))
	ctx := context.Background()

	if _, err := idx.Ingest(ctx, models.Document{Source: "api:faq", Content: paragraphs(4)}); err != nil {
		t.Fatal(err)
	}
	res, err := idx.Ingest(ctx, models.Document{Source: "api:faq", Content: paragraphs(1)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 3 || svc.Size(testIndex) != 1 {
		t.Errorf("removed %d, index size %d, want 3 and 1", res.Removed, svc.Size(testIndex))
	}

	rec, err := ledger.GetSource(ctx, testIndex, "api:faq")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Chunks != 1 || !rec.ModTime.IsZero() {
		t.Errorf("ledger record = %+v, want 1 chunk and no mtime", rec)
	}
}
