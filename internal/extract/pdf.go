package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor reads the text layer of PDF documents page by page.
type PDFExtractor struct{}

// NewPDFExtractor creates a PDFExtractor.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// ExtractText concatenates the plain text of every page, one page per line
// block. Pages that fail to decode are skipped; an error is returned only
// when the document cannot be opened or no page produced text.
func (e *PDFExtractor) ExtractText(ctx context.Context, body []byte) (string, error) {
	if len(body) == 0 {
		return "", errors.New("empty pdf body")
	}
	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var (
		b       strings.Builder
		pageErr error
	)
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			pageErr = fmt.Errorf("page %d: %w", i, err)
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	out := b.String()
	if strings.TrimSpace(out) == "" && pageErr != nil {
		return "", pageErr
	}
	return out, nil
}
