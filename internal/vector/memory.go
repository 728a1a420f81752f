package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var _ Service = (*MemoryService)(nil)

// MemoryService is an in-process vector service using brute-force search.
// Suitable for tests, local development and small corpora.
type MemoryService struct {
	mu      sync.RWMutex
	indexes map[string]*memoryIndex
}

type memoryIndex struct {
	dimension int
	metric    Metric
	ids       []string
	records   map[string]Record
}

// NewMemoryService creates an empty in-memory vector service.
func NewMemoryService() *MemoryService {
	return &MemoryService{indexes: make(map[string]*memoryIndex)}
}

// ListIndexes returns index names in lexical order.
func (m *MemoryService) ListIndexes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.indexes))
	for name := range m.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateIndex creates an empty index. Creating an existing index fails.
func (m *MemoryService) CreateIndex(ctx context.Context, spec IndexSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if spec.Name == "" {
		return fmt.Errorf("index name is required")
	}
	if spec.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	metric := spec.Metric
	if metric == "" {
		metric = MetricCosine
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[spec.Name]; ok {
		return fmt.Errorf("index %q already exists", spec.Name)
	}
	m.indexes[spec.Name] = &memoryIndex{
		dimension: spec.Dimension,
		metric:    metric,
		records:   make(map[string]Record),
	}
	return nil
}

func (m *MemoryService) lookup(index string) (*memoryIndex, error) {
	idx, ok := m.indexes[index]
	if !ok {
		return nil, fmt.Errorf("index %q not found", index)
	}
	return idx, nil
}

// Upsert stores records, replacing any with the same id.
func (m *MemoryService) Upsert(ctx context.Context, index string, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.lookup(index)
	if err != nil {
		return err
	}
	for _, r := range records {
		if len(r.Values) != idx.dimension {
			return fmt.Errorf("vector dimension mismatch for %q: got %d, expected %d", r.ID, len(r.Values), idx.dimension)
		}
	}
	for _, r := range records {
		if _, exists := idx.records[r.ID]; !exists {
			idx.ids = append(idx.ids, r.ID)
		}
		idx.records[r.ID] = cloneRecord(r)
	}
	return nil
}

// Query returns the TopK records ranked by the index metric. Ties keep insertion order.
func (m *MemoryService) Query(ctx context.Context, index string, req QueryRequest) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, err := m.lookup(index)
	if err != nil {
		return nil, err
	}
	if len(req.Vector) != idx.dimension {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(req.Vector), idx.dimension)
	}
	if req.TopK <= 0 || len(idx.ids) == 0 {
		return nil, nil
	}
	matches := make([]Match, len(idx.ids))
	for i, id := range idx.ids {
		matches[i] = Match{ID: id, Score: score(idx.metric, req.Vector, idx.records[id].Values)}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if req.TopK < len(matches) {
		matches = matches[:req.TopK]
	}
	for i := range matches {
		rec := idx.records[matches[i].ID]
		if req.IncludeMetadata {
			matches[i].Metadata = cloneMetadata(rec.Metadata)
		}
		if req.IncludeValues {
			matches[i].Values = append([]float32(nil), rec.Values...)
		}
	}
	return matches, nil
}

// Delete removes records by id. Unknown ids are ignored.
func (m *MemoryService) Delete(ctx context.Context, index string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.lookup(index)
	if err != nil {
		return err
	}
	removed := false
	for _, id := range ids {
		if _, ok := idx.records[id]; ok {
			delete(idx.records, id)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	kept := idx.ids[:0]
	for _, id := range idx.ids {
		if _, ok := idx.records[id]; ok {
			kept = append(kept, id)
		}
	}
	idx.ids = kept
	return nil
}

// Size returns the number of records in index, or 0 if it does not exist.
func (m *MemoryService) Size(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx, ok := m.indexes[index]; ok {
		return len(idx.ids)
	}
	return 0
}

// Save persists every index to path, creating the directory if needed.
// Format: index count (4), then per index: name, dimension (4), metric, record count (4),
// then per record: id, vector (dimension*4 bytes), metadata as JSON.
// Strings are written as length (4) followed by bytes.
func (m *MemoryService) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.writeTo(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *MemoryService) writeTo(w io.Writer) error {
	names := make([]string, 0, len(m.indexes))
	for name := range m.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(names))); err != nil {
		return fmt.Errorf("write index count: %w", err)
	}
	for _, name := range names {
		idx := m.indexes[name]
		if err := writeString(w, name); err != nil {
			return fmt.Errorf("write index name: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(idx.dimension)); err != nil {
			return fmt.Errorf("write dimensions: %w", err)
		}
		if err := writeString(w, string(idx.metric)); err != nil {
			return fmt.Errorf("write metric: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(idx.ids))); err != nil {
			return fmt.Errorf("write count: %w", err)
		}
		for _, id := range idx.ids {
			rec := idx.records[id]
			if err := writeString(w, id); err != nil {
				return fmt.Errorf("write id: %w", err)
			}
			if _, err := w.Write(float32SliceToBytes(rec.Values)); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
			meta, err := json.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata: %w", err)
			}
			if err := writeString(w, string(meta)); err != nil {
				return fmt.Errorf("write metadata: %w", err)
			}
		}
	}
	return nil
}

// Load replaces the service contents with the indexes stored at path.
// A missing file leaves the service unchanged.
func (m *MemoryService) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	indexes, err := readIndexes(bufio.NewReader(f))
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.indexes = indexes
	m.mu.Unlock()
	return nil
}

func readIndexes(r io.Reader) (map[string]*memoryIndex, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read index count: %w", err)
	}
	indexes := make(map[string]*memoryIndex, count)
	for i := uint32(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("read index name: %w", err)
		}
		var dim, n uint32
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return nil, fmt.Errorf("read dimensions: %w", err)
		}
		metric, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("read metric: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("read count: %w", err)
		}
		idx := &memoryIndex{
			dimension: int(dim),
			metric:    Metric(metric),
			ids:       make([]string, 0, n),
			records:   make(map[string]Record, n),
		}
		buf := make([]byte, int(dim)*4)
		for j := uint32(0); j < n; j++ {
			id, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("read id: %w", err)
			}
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("read vector: %w", err)
			}
			raw, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("read metadata: %w", err)
			}
			var meta map[string]string
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
			idx.ids = append(idx.ids, id)
			idx.records[id] = Record{ID: id, Values: bytesToFloat32Slice(buf), Metadata: meta}
		}
		indexes[name] = idx
	}
	return indexes, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

func cloneRecord(r Record) Record {
	return Record{
		ID:       r.ID,
		Values:   append([]float32(nil), r.Values...),
		Metadata: cloneMetadata(r.Metadata),
	}
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
