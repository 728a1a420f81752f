// Package models defines core data structures for documents, chunks, and answers.
package models

import (
	"encoding/json"
	"time"
)

// Metadata keys written onto every vector record.
const (
	MetaText   = "text"
	MetaSource = "source"
	MetaLoc    = "loc"
)

// Document is a loaded source text waiting to be chunked.
type Document struct {
	Source   string            `json:"source"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LineRange is a 1-based inclusive line span.
type LineRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Location records where a chunk sits inside its document.
type Location struct {
	Lines  LineRange `json:"lines"`
	Offset int       `json:"offset"`
}

// String returns the JSON form stored in vector metadata.
func (l Location) String() string {
	b, _ := json.Marshal(l)
	return string(b)
}

// ParseLocation decodes a location previously produced by Location.String.
func ParseLocation(s string) (Location, error) {
	var l Location
	err := json.Unmarshal([]byte(s), &l)
	return l, err
}

// Chunk is a bounded slice of a document. Chunks only live during ingestion.
type Chunk struct {
	Content  string            `json:"content"`
	Index    int               `json:"index"`
	Source   string            `json:"source"`
	Loc      Location          `json:"loc"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IngestResult summarizes the ingestion of one document.
type IngestResult struct {
	Source  string        `json:"source"`
	Chunks  int           `json:"chunks"`
	Batches int           `json:"batches"`
	Removed int           `json:"removed,omitempty"`
	Skipped bool          `json:"skipped,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// SourceRecord is the ledger entry of an ingested source within one index.
type SourceRecord struct {
	Index      string    `json:"index"`
	Source     string    `json:"source"`
	Chunks     int       `json:"chunks"`
	ModTime    time.Time `json:"mod_time"`
	Size       int64     `json:"size"`
	IngestedAt time.Time `json:"ingested_at"`
}
