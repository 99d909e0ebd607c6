// Package detector decides when a page should be re-rendered in a headless
// browser because its static HTML yielded too little text.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/site-rag/internal/crawler"
)

// DefaultMinText matches the shortest text the indexer accepts.
const DefaultMinText = 100

// Heuristic promotes HTML pages whose extracted text is too short and whose
// markup looks script-rendered.
type Heuristic struct {
	MinTextLength int
}

// NewHeuristic creates a detector. A zero threshold uses DefaultMinText.
func NewHeuristic(minText int) *Heuristic {
	if minText <= 0 {
		minText = DefaultMinText
	}
	return &Heuristic{MinTextLength: minText}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote reports whether resp deserves a headless re-fetch given the
// text already extracted from it.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse, extracted string) bool {
	if resp.StatusCode != 200 || resp.UsedHeadless {
		return false
	}
	if mt := resp.MediaType(); mt != "" && mt != "text/html" {
		return false
	}
	if len(strings.TrimSpace(extracted)) > h.MinTextLength {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return scriptDensityHigh(body)
}

// scriptDensityHigh reports whether <script> elements cover at least a
// quarter of the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		end := total
		if gt := strings.IndexByte(lower[start:], '>'); gt != -1 {
			contentStart := start + gt + 1
			if closeAt := strings.Index(lower[contentStart:], closeTag); closeAt != -1 {
				end = contentStart + closeAt + len(closeTag)
			}
		}
		covered += end - start
		pos = end
		if pos >= total {
			break
		}
	}
	return covered*100/total >= 25
}
