// Package chunker splits extracted text into overlapping, boundary-aware
// segments sized for embedding.
package chunker

import (
	"strings"
	"time"

	"github.com/JakeFAU/site-rag/internal/crawler"
)

// Defaults used by the indexing pipeline.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Config controls window size and overlap, both measured in characters.
type Config struct {
	Size    int
	Overlap int
}

// Chunker splits text with a fixed configuration.
type Chunker struct {
	cfg Config
}

// New builds a Chunker, falling back to defaults for invalid values.
func New(cfg Config) *Chunker {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		cfg.Overlap = min(DefaultOverlap, cfg.Size/2)
	}
	return &Chunker{cfg: cfg}
}

// Split returns the ordered chunk texts for text.
func (c *Chunker) Split(text string) []string {
	return Split(text, c.cfg.Size, c.cfg.Overlap)
}

// Chunks wraps Split output with source metadata.
func (c *Chunker) Chunks(text, sourceURL, mediaType string, extractedAt time.Time) []crawler.Chunk {
	parts := c.Split(text)
	out := make([]crawler.Chunk, 0, len(parts))
	for i, part := range parts {
		out = append(out, crawler.Chunk{
			Index:       i,
			Text:        part,
			SourceURL:   sourceURL,
			MediaType:   mediaType,
			ExtractedAt: extractedAt,
		})
	}
	return out
}

// Split cuts text into windows of at most size characters where consecutive
// windows share overlap characters. A window that does not reach the end of
// the text is shortened to end just after the last '.' or '\n' inside it,
// provided that break lies past the window midpoint. Every chunk is trimmed;
// chunks that trim to nothing are dropped.
func Split(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{strings.TrimSpace(text)}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else if brk := lastBreak(runes[start:end]); brk > size/2 {
			end = start + brk + 1
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func lastBreak(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' || window[i] == '\n' {
			return i
		}
	}
	return -1
}
