// Package watcher keeps the vector index in step with watched directories.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Sink receives the files to (re-)ingest and the sources to drop.
// *indexer.Indexer satisfies it.
type Sink interface {
	IngestFile(ctx context.Context, path string, allowedExts []string) (*models.IngestResult, error)
	RemoveSource(ctx context.Context, source string) (int, error)
}

// Watcher re-ingests files under its roots when they change and removes the
// records of deleted files. Writes to the same file are debounced.
type Watcher struct {
	roots      []string
	extensions []string
	recursive  bool
	sink       Sink
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	ctx      context.Context
	pending  map[string]*time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once

	// sinkMu keeps ingestion sequential across debounced files.
	sinkMu sync.Mutex
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output (file events, ingestion failures, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = utils.OrNop(l) }
}

// WithDebounce sets how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher over cfg.Directories feeding sink.
func New(cfg config.WatchConfig, sink Sink, opts ...Option) *Watcher {
	roots := make([]string, 0, len(cfg.Directories))
	for _, d := range cfg.Directories {
		if abs, err := filepath.Abs(d); err == nil {
			d = abs
		}
		roots = append(roots, filepath.Clean(d))
	}
	w := &Watcher{
		roots:      roots,
		extensions: cfg.Extensions,
		recursive:  cfg.RecursiveOrDefault(),
		sink:       sink,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	return append([]string(nil), w.roots...)
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
// Missing roots are created.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range w.roots {
		if err := os.MkdirAll(root, 0755); err != nil {
			_ = fsw.Close()
			return err
		}
		if err := w.watchTree(fsw, root); err != nil {
			_ = fsw.Close()
			return err
		}
	}
	w.fsw = fsw
	w.ctx = ctx
	w.started = true
	w.logger.Debug("watcher started",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) watchTree(fsw *fsnotify.Watcher, root string) error {
	if !w.recursive {
		return fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.addDirectory(path)
			return
		}
		if matchExtension(path, w.extensions) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if matchExtension(path, w.extensions) {
			w.remove(path)
		}
	}
}

// addDirectory watches a directory created under a root and schedules the files
// it already holds, so the event loop never blocks on ingestion.
func (w *Watcher) addDirectory(dir string) {
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	var err error
	if w.recursive {
		err = w.watchTree(fsw, dir)
	} else if w.isRoot(dir) {
		err = fsw.Add(dir)
	}
	if err != nil {
		w.logger.Debug("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	if w.recursive {
		w.walkMatching(dir, w.schedule)
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) sinkContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

func (w *Watcher) ingest(path string) {
	w.sinkMu.Lock()
	defer w.sinkMu.Unlock()
	res, err := w.sink.IngestFile(w.sinkContext(), path, w.extensions)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.Warn("failed to ingest file", zap.String("path", path), zap.Error(err))
		}
		return
	}
	if !res.Skipped {
		w.logger.Info("file ingested", zap.String("path", path), zap.Int("chunks", res.Chunks))
	}
}

func (w *Watcher) remove(path string) {
	w.sinkMu.Lock()
	defer w.sinkMu.Unlock()
	n, err := w.sink.RemoveSource(w.sinkContext(), path)
	if err != nil {
		w.logger.Warn("failed to remove source", zap.String("path", path), zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Info("source removed", zap.String("path", path), zap.Int("records", n))
	}
}

// Sync ingests every matching file already present under the roots.
// Unchanged files are skipped by the sink.
func (w *Watcher) Sync() {
	for _, root := range w.roots {
		w.logger.Debug("watcher syncing directory", zap.String("root", root))
		w.walkMatching(root, w.ingest)
	}
}

// walkMatching calls fn for every file under root with a watched extension.
func (w *Watcher) walkMatching(root string, fn func(path string)) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchExtension(path, w.extensions) {
			fn(path)
		}
		return nil
	})
}

func (w *Watcher) isRoot(path string) bool {
	for _, root := range w.roots {
		if root == path {
			return true
		}
	}
	return false
}

func (w *Watcher) underRoot(path string) bool {
	for _, root := range w.roots {
		if root == path || inDir(root, path) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// Stop stops watching and drops pending ingestions.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
