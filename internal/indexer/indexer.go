package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	// DefaultUpsertBatchSize is the number of records written per upsert request.
	DefaultUpsertBatchSize = 100

	deleteBatchSize = 1000
)

// Indexer chunks documents, embeds the chunks and upserts them into one vector index.
type Indexer struct {
	embedder  embedding.Embedder
	vectors   vector.Service
	index     string
	chunker   *Chunker
	extractor *extract.Extractor
	ledger    storage.Ledger // optional; enables skip-unchanged and stale record cleanup
	batchSize int
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file ingested, source removed, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = utils.OrNop(l) }
}

// WithLedger records ingested sources so unchanged files are skipped on re-ingestion.
func WithLedger(l storage.Ledger) IndexerOption {
	return func(idx *Indexer) { idx.ledger = l }
}

// WithExtractor sets the file loader. Without one, files are read as plain text.
func WithExtractor(e *extract.Extractor) IndexerOption {
	return func(idx *Indexer) { idx.extractor = e }
}

// WithBatchSize sets how many records go into one upsert request.
func WithBatchSize(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// NewIndexer creates an indexer writing into index on vectors.
func NewIndexer(embedder embedding.Embedder, vectors vector.Service, index string, chunker *Chunker, opts ...IndexerOption) *Indexer {
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, 0)
	}
	idx := &Indexer{
		embedder:  embedder,
		vectors:   vectors,
		index:     index,
		chunker:   chunker,
		batchSize: DefaultUpsertBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// RecordID returns the vector record id of chunk i of source.
func RecordID(source string, i int) string {
	return fmt.Sprintf("%s_%d", source, i)
}

// IngestDocument splits doc, embeds all chunks in one call and upserts the records in
// batches. The last batch is flushed even when partial. Batches already written stay
// written if a later one fails.
func (idx *Indexer) IngestDocument(ctx context.Context, doc models.Document) (*models.IngestResult, error) {
	start := time.Now()
	chunks := idx.chunker.Split(doc)
	result := &models.IngestResult{Source: doc.Source, Chunks: len(chunks)}
	if len(chunks) == 0 {
		idx.logger.Debug("document has no content", zap.String("source", doc.Source))
		result.Elapsed = time.Since(start)
		return result, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	embeddings, err := idx.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("failed to generate embeddings: got %d vectors for %d chunks", len(embeddings), len(chunks))
	}

	batch := make([]vector.Record, 0, min(idx.batchSize, len(chunks)))
	for i, ch := range chunks {
		batch = append(batch, vector.Record{
			ID:       RecordID(doc.Source, ch.Index),
			Values:   embeddings[i],
			Metadata: recordMetadata(ch),
		})
		if len(batch) == idx.batchSize || i == len(chunks)-1 {
			if err := idx.vectors.Upsert(ctx, idx.index, batch); err != nil {
				return nil, fmt.Errorf("failed to upsert batch %d of %s: %w", result.Batches+1, doc.Source, err)
			}
			result.Batches++
			batch = make([]vector.Record, 0, idx.batchSize)
		}
	}
	result.Elapsed = time.Since(start)
	idx.logger.Debug("document ingested",
		zap.String("source", doc.Source),
		zap.Int("chunks", result.Chunks),
		zap.Int("batches", result.Batches),
		zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

// recordMetadata is the chunk metadata plus the raw text, source and serialized location.
func recordMetadata(ch models.Chunk) map[string]string {
	meta := make(map[string]string, len(ch.Metadata)+3)
	for k, v := range ch.Metadata {
		meta[k] = v
	}
	meta[models.MetaText] = ch.Content
	meta[models.MetaSource] = ch.Source
	meta[models.MetaLoc] = ch.Loc.String()
	return meta
}

// IngestFile loads the file at path and ingests it with its absolute path as source.
// If allowedExts is non-empty the extension must be listed (case-insensitive).
// With a ledger, files whose mtime and size match the last ingestion are skipped, and
// records left over from a previously longer version are deleted.
func (idx *Indexer) IngestFile(ctx context.Context, path string, allowedExts []string) (*models.IngestResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return nil, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}

	prev, err := idx.previous(ctx, absPath)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.ModTime.Equal(info.ModTime()) && prev.Size == info.Size() {
		idx.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		return &models.IngestResult{Source: absPath, Chunks: prev.Chunks, Skipped: true}, nil
	}

	doc, err := idx.load(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	doc.Source = absPath
	res, err := idx.ingestTracked(ctx, doc, prev, info.ModTime(), info.Size())
	if err != nil {
		return nil, err
	}
	idx.logger.Debug("file ingested", zap.String("path", absPath), zap.Int("chunks", res.Chunks))
	return res, nil
}

// Ingest ingests doc like IngestDocument and, with a ledger, records the source and
// deletes records left over from a previously longer version of it.
func (idx *Indexer) Ingest(ctx context.Context, doc models.Document) (*models.IngestResult, error) {
	prev, err := idx.previous(ctx, doc.Source)
	if err != nil {
		return nil, err
	}
	return idx.ingestTracked(ctx, doc, prev, time.Time{}, 0)
}

func (idx *Indexer) ingestTracked(ctx context.Context, doc models.Document, prev *models.SourceRecord, modTime time.Time, size int64) (*models.IngestResult, error) {
	res, err := idx.IngestDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.Chunks > res.Chunks {
		if err := idx.deleteRange(ctx, doc.Source, res.Chunks, prev.Chunks); err != nil {
			return nil, err
		}
		res.Removed = prev.Chunks - res.Chunks
	}
	if idx.ledger != nil {
		rec := &models.SourceRecord{
			Index:   idx.index,
			Source:  doc.Source,
			Chunks:  res.Chunks,
			ModTime: modTime,
			Size:    size,
		}
		if err := idx.ledger.PutSource(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to record source: %w", err)
		}
	}
	return res, nil
}

func (idx *Indexer) previous(ctx context.Context, source string) (*models.SourceRecord, error) {
	if idx.ledger == nil {
		return nil, nil
	}
	rec, err := idx.ledger.GetSource(ctx, idx.index, source)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return rec, nil
}

func (idx *Indexer) load(path string) (models.Document, error) {
	if idx.extractor != nil {
		return idx.extractor.Load(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return models.Document{}, err
	}
	return models.Document{Source: path, Content: string(content)}, nil
}

// IngestDirectory walks dir recursively and ingests each regular file whose extension
// is in allowedExts (all files when empty), one file at a time. It stops at the first error.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string, allowedExts []string) ([]*models.IngestResult, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var results []*models.IngestResult
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		res, ingestErr := idx.IngestFile(ctx, path, allowedExts)
		if ingestErr != nil {
			return fmt.Errorf("%s: %w", path, ingestErr)
		}
		results = append(results, res)
		return nil
	})
	return results, err
}

// RemoveSource deletes every record of source from the index and forgets it in the
// ledger. It returns the number of records deleted; unknown sources delete nothing.
func (idx *Indexer) RemoveSource(ctx context.Context, source string) (int, error) {
	if idx.ledger == nil {
		return 0, fmt.Errorf("removing a source requires a ledger")
	}
	prev, err := idx.previous(ctx, source)
	if err != nil || prev == nil {
		return 0, err
	}
	if err := idx.deleteRange(ctx, source, 0, prev.Chunks); err != nil {
		return 0, err
	}
	if err := idx.ledger.DeleteSource(ctx, idx.index, source); err != nil {
		return 0, fmt.Errorf("failed to forget source: %w", err)
	}
	idx.logger.Debug("source removed", zap.String("source", source), zap.Int("records", prev.Chunks))
	return prev.Chunks, nil
}

// deleteRange deletes record ids source_from .. source_(to-1).
func (idx *Indexer) deleteRange(ctx context.Context, source string, from, to int) error {
	for lo := from; lo < to; lo += deleteBatchSize {
		hi := min(lo+deleteBatchSize, to)
		ids := make([]string, 0, hi-lo)
		for i := lo; i < hi; i++ {
			ids = append(ids, RecordID(source, i))
		}
		if err := idx.vectors.Delete(ctx, idx.index, ids); err != nil {
			return fmt.Errorf("failed to delete records of %s: %w", source, err)
		}
	}
	return nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
