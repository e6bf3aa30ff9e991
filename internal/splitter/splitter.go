// Package splitter turns document pages into ordered, overlapping text
// chunks — the unit of embedding and retrieval. Chunk boundaries are
// character-based with a configurable overlap carried across consecutive
// chunks of the same page; metadata is inherited from the originating page.
package splitter

import (
	"fmt"
	"strings"
)

// Default chunking parameters, used when the caller passes zero values.
const (
	// DefaultChunkSize is the maximum number of characters per chunk.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the number of characters shared between
	// consecutive chunks of the same page.
	DefaultChunkOverlap = 100
)

// Page is one unit of source text with its metadata (e.g. a file page or a
// whole text file). Metadata is copied onto every chunk produced from it.
type Page struct {
	// Text is the raw page content.
	Text string

	// Metadata holds arbitrary page-level attributes (page number, source
	// path, ...). It is shared by reference with the produced chunks.
	Metadata map[string]any
}

// Chunk is a bounded span of text produced by Split.
type Chunk struct {
	// Text is the chunk content, at most the configured chunk size.
	Text string

	// Order is the 1-based position of the chunk across the whole Split
	// result, in input order.
	Order int

	// Metadata is inherited from the originating page.
	Metadata map[string]any
}

// Splitter splits pages into overlapping chunks.
type Splitter struct {
	chunkSize int
	overlap   int
}

// New constructs a Splitter. Zero values select the defaults. It returns an
// error when the overlap is not strictly smaller than the chunk size — that
// configuration would never advance through the input.
func New(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < 0 {
		return nil, fmt.Errorf("splitter: chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("splitter: overlap must not be negative, got %d", overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("splitter: overlap (%d) must be smaller than chunk size (%d)", overlap, chunkSize)
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}, nil
}

// Split produces the ordered chunk sequence for the given pages. Chunk order
// numbers are assigned 1..N over the full result. A page shorter than the
// chunk size yields exactly one chunk; empty pages yield none.
func (s *Splitter) Split(pages []Page) []Chunk {
	var chunks []Chunk

	order := 0
	for _, page := range pages {
		for _, text := range s.splitText(page.Text) {
			order++
			chunks = append(chunks, Chunk{
				Text:     text,
				Order:    order,
				Metadata: page.Metadata,
			})
		}
	}

	return chunks
}

// splitText cuts a single text into spans of at most chunkSize characters,
// each starting overlap characters before the previous span's end. Sizes
// count runes, not bytes, so multi-byte text is never cut mid-character.
func (s *Splitter) splitText(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var out []string
	step := s.chunkSize - s.overlap

	for start := 0; start < len(runes); start += step {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return out
}
