package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
)

// fakeSink records ingested and removed paths.
type fakeSink struct {
	mu       sync.Mutex
	ingested []string
	removed  []string
}

func (s *fakeSink) IngestFile(_ context.Context, path string, _ []string) (*models.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingested = append(s.ingested, path)
	return &models.IngestResult{Source: path, Chunks: 1}, nil
}

func (s *fakeSink) RemoveSource(_ context.Context, source string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, source)
	return 1, nil
}

func (s *fakeSink) snapshot() (ingested, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ingested...), append([]string(nil), s.removed...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func startWatcher(t *testing.T, dir string, exts []string) (*Watcher, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	w := New(config.WatchConfig{Directories: []string{dir}, Extensions: exts}, sink, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		w.Stop()
		cancel()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return w, sink
}

func countSuffix(paths []string, suffix string) int {
	n := 0
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			n++
		}
	}
	return n
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{".txt"}, true},
		{"/a/b.md", []string{"md"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
		{"/tmp/a", "/tmp/ab", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestNew_AbsoluteRoots(t *testing.T) {
	w := New(config.WatchConfig{Directories: []string{"relative/dir/"}}, &fakeSink{})
	dirs := w.Directories()
	if len(dirs) != 1 || !filepath.IsAbs(dirs[0]) || strings.HasSuffix(dirs[0], "/") {
		t.Errorf("Directories() = %v", dirs)
	}
}

func TestWatcher_Start_CreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	startWatcher(t, root, nil)
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root should exist after Start: %v", err)
	}
}

func TestWatcher_Sync(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.txt", "sub/b.txt", "ignore.xyz"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	sink := &fakeSink{}
	w := New(config.WatchConfig{Directories: []string{dir}, Extensions: []string{".txt"}}, sink)
	w.Sync()

	ingested, _ := sink.snapshot()
	sort.Strings(ingested)
	want := []string{filepath.Join(dir, "a.txt"), filepath.Join(dir, "sub", "b.txt")}
	if len(ingested) != 2 || ingested[0] != want[0] || ingested[1] != want[1] {
		t.Errorf("ingested = %v, want %v", ingested, want)
	}
}

func TestWatcher_Sync_NonRecursive(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.txt", "sub/b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	recursive := false
	sink := &fakeSink{}
	w := New(config.WatchConfig{Directories: []string{dir}, Recursive: &recursive}, sink)
	w.Sync()

	ingested, _ := sink.snapshot()
	if len(ingested) != 1 || !strings.HasSuffix(ingested[0], "a.txt") {
		t.Errorf("ingested = %v", ingested)
	}
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	_, sink := startWatcher(t, dir, []string{".txt"})

	path := filepath.Join(dir, "f.txt")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(strings.Repeat("x", i+1)), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "skip.xyz"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	ok := waitFor(t, func() bool {
		ingested, _ := sink.snapshot()
		return countSuffix(ingested, "f.txt") >= 1
	})
	if !ok {
		t.Fatal("f.txt was not ingested")
	}
	time.Sleep(200 * time.Millisecond)
	ingested, _ := sink.snapshot()
	if n := countSuffix(ingested, "f.txt"); n != 1 {
		t.Errorf("f.txt ingested %d times, want 1", n)
	}
	if countSuffix(ingested, "skip.xyz") != 0 {
		t.Error("skip.xyz should not be ingested")
	}
}

func TestWatcher_RemovesDeletedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.md")
	if err := os.WriteFile(path, []byte("bye"), 0600); err != nil {
		t.Fatal(err)
	}
	_, sink := startWatcher(t, dir, []string{".md"})

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	ok := waitFor(t, func() bool {
		_, removed := sink.snapshot()
		return countSuffix(removed, "gone.md") == 1
	})
	if !ok {
		_, removed := sink.snapshot()
		t.Errorf("removed = %v, want gone.md", removed)
	}
}

func TestWatcher_NewDirectory(t *testing.T) {
	dir := t.TempDir()
	_, sink := startWatcher(t, dir, []string{".txt", ".md"})

	nested := filepath.Join(dir, "level1", "level2")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"doc1.txt", "doc2.md", "ignore.xyz"} {
		if err := os.WriteFile(filepath.Join(nested, name), []byte("content"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	ok := waitFor(t, func() bool {
		ingested, _ := sink.snapshot()
		return countSuffix(ingested, "doc1.txt") >= 1 && countSuffix(ingested, "doc2.md") >= 1
	})
	ingested, _ := sink.snapshot()
	if !ok {
		t.Errorf("expected doc1.txt and doc2.md to be ingested, got %v", ingested)
	}
	if countSuffix(ingested, "ignore.xyz") != 0 {
		t.Error("ignore.xyz should not be ingested")
	}
}

func TestWatcher_AddDirectorySchedulesFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(filepath.Join(sub, "deeper"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.txt", filepath.Join("deeper", "b.txt"), "c.xyz"} {
		if err := os.WriteFile(filepath.Join(sub, name), []byte("content"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	sink := &fakeSink{}
	w := New(config.WatchConfig{Directories: []string{dir}, Extensions: []string{".txt"}}, sink, WithDebounce(500*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	w.addDirectory(sub)
	w.mu.Lock()
	pending := len(w.pending)
	w.mu.Unlock()
	if ingested, _ := sink.snapshot(); len(ingested) != 0 {
		t.Errorf("addDirectory ingested %v before the debounce fired", ingested)
	}
	if pending != 2 {
		t.Errorf("pending = %d, want 2 scheduled files", pending)
	}

	ok := waitFor(t, func() bool {
		ingested, _ := sink.snapshot()
		return countSuffix(ingested, "a.txt") == 1 && countSuffix(ingested, "b.txt") == 1
	})
	if !ok {
		ingested, _ := sink.snapshot()
		t.Errorf("ingested = %v, want a.txt and b.txt once each", ingested)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, _ := startWatcher(t, t.TempDir(), nil)
	w.Stop()
	w.Stop()
}
