// Package indexer splits documents into chunks and writes their embeddings to the vector index.
package indexer

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/models"
)

// DefaultChunkSize is the maximum chunk length in runes when none is configured.
const DefaultChunkSize = 1000

// DefaultSeparators are tried in order: paragraph, line, sentence, word.
// When none of them splits a piece small enough, the piece is cut at a rune boundary.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits text recursively on structural boundaries into chunks of at most
// chunkSize runes. Separators stay attached to the text before them, so with no
// overlap the chunk contents concatenate back to the original text.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewChunker creates a chunker with the given size and overlap (in runes).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   DefaultSeparators,
	}
}

// span is a byte range of the source text plus its length in runes.
type span struct {
	start, end int
	runes      int
}

// Split chunks doc. Whitespace-only documents yield no chunks.
func (c *Chunker) Split(doc models.Document) []models.Chunk {
	text := doc.Content
	if strings.TrimSpace(text) == "" {
		return nil
	}
	pieces := coalesce(c.splitSpan(text, span{0, len(text), utf8.RuneCountInString(text)}, c.separators), c.chunkSize)

	chunks := make([]models.Chunk, 0, len(pieces))
	line, lineAt := 1, 0
	for i, sp := range pieces {
		// pieces are ordered by start, so the line counter only moves forward
		line += strings.Count(text[lineAt:sp.start], "\n")
		lineAt = sp.start
		content := text[sp.start:sp.end]
		to := line + strings.Count(strings.TrimSuffix(content, "\n"), "\n")
		chunks = append(chunks, models.Chunk{
			Content: content,
			Index:   i,
			Source:  doc.Source,
			Loc: models.Location{
				Lines:  models.LineRange{From: line, To: to},
				Offset: sp.start,
			},
			Metadata: copyMetadata(doc.Metadata),
		})
	}
	return chunks
}

func (c *Chunker) splitSpan(text string, sp span, seps []string) []span {
	if sp.runes <= c.chunkSize {
		return []span{sp}
	}
	segment := text[sp.start:sp.end]
	sep, rest := "", []string(nil)
	for i, s := range seps {
		if strings.Contains(segment, s) {
			sep, rest = s, seps[i+1:]
			break
		}
	}
	if sep == "" {
		return c.hardCut(text, sp)
	}

	var out, pending []span
	pos := sp.start
	for pos < sp.end {
		end := sp.end
		if i := strings.Index(text[pos:sp.end], sep); i >= 0 {
			end = pos + i + len(sep)
		}
		piece := span{pos, end, utf8.RuneCountInString(text[pos:end])}
		pos = end
		if piece.runes <= c.chunkSize {
			pending = append(pending, piece)
			continue
		}
		out = append(out, c.merge(pending)...)
		pending = nil
		out = append(out, c.splitSpan(text, piece, rest)...)
	}
	return append(out, c.merge(pending)...)
}

func (c *Chunker) hardCut(text string, sp span) []span {
	var out []span
	start, n := sp.start, 0
	for i := range text[sp.start:sp.end] {
		if n == c.chunkSize {
			out = append(out, span{start, sp.start + i, n})
			start, n = sp.start+i, 0
		}
		n++
	}
	if n > 0 {
		out = append(out, span{start, sp.end, n})
	}
	return out
}

// merge packs consecutive small pieces into windows of at most chunkSize runes.
// When overlap is set, trailing pieces of a window are carried into the next one
// as long as they fit within chunkOverlap.
func (c *Chunker) merge(pieces []span) []span {
	var out, window []span
	total := 0
	emit := func() {
		first, last := window[0], window[len(window)-1]
		out = append(out, span{first.start, last.end, total})
	}
	for _, p := range pieces {
		if len(window) > 0 && total+p.runes > c.chunkSize {
			emit()
			for len(window) > 0 && (total > c.chunkOverlap || total+p.runes > c.chunkSize) {
				total -= window[0].runes
				window = window[1:]
			}
		}
		window = append(window, p)
		total += p.runes
	}
	if len(window) > 0 {
		emit()
	}
	return out
}

// coalesce joins neighbouring spans that touch and still fit together, which folds
// stray separator-only pieces left behind by a recursive split into their neighbour.
func coalesce(spans []span, size int) []span {
	if len(spans) < 2 {
		return spans
	}
	out := spans[:1]
	for _, sp := range spans[1:] {
		last := &out[len(out)-1]
		if last.end == sp.start && last.runes+sp.runes <= size {
			last.end = sp.end
			last.runes += sp.runes
			continue
		}
		out = append(out, sp)
	}
	return out
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
