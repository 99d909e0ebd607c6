// Package extract turns fetched bytes into plain text by dispatching on the
// declared media type to an HTML, PDF, or OCR extractor.
package extract

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag/internal/crawler"
)

// MinTextLength is the shortest text worth indexing; anything at or below it
// is skipped downstream.
const MinTextLength = 100

// Kind classifies which extractor handled a resource.
type Kind string

// Extractor kinds.
const (
	KindHTML        Kind = "html"
	KindPDF         Kind = "pdf"
	KindImage       Kind = "image"
	KindUnsupported Kind = "unsupported"
)

var imageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/tiff": {},
}

// Result is the outcome of one dispatch. Text is empty both for unsupported
// types and for extractor failures; Kind tells them apart.
type Result struct {
	Kind          Kind
	Text          string
	Links         []string
	DocumentLinks []string
}

// Usable reports whether the text is long enough to index.
func (r Result) Usable() bool {
	return Usable(r.Text)
}

// Usable reports whether text exceeds MinTextLength once trimmed.
func Usable(text string) bool {
	return len(strings.TrimSpace(text)) > MinTextLength
}

// KindFor maps a media type to the extractor that would handle it.
func KindFor(mediaType string) Kind {
	mediaType = crawler.ParseMediaType(mediaType)
	switch {
	case mediaType == "text/html":
		return KindHTML
	case mediaType == "application/pdf":
		return KindPDF
	default:
		if _, ok := imageTypes[mediaType]; ok {
			return KindImage
		}
		return KindUnsupported
	}
}

// Dispatcher routes bytes to the extractor matching their media type.
type Dispatcher struct {
	html   *HTMLExtractor
	pdf    crawler.TextExtractor
	ocr    crawler.TextExtractor
	logger *zap.Logger
}

// NewDispatcher wires the per-type extractors. A nil pdf or ocr extractor
// makes that type behave as unsupported.
func NewDispatcher(
	html *HTMLExtractor,
	pdf crawler.TextExtractor,
	ocr crawler.TextExtractor,
	logger *zap.Logger,
) *Dispatcher {
	if html == nil {
		html = NewHTMLExtractor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{html: html, pdf: pdf, ocr: ocr, logger: logger}
}

// Extract returns the text for body. It never fails: extractor errors and
// panics are logged and produce an empty Result of the matching Kind.
func (d *Dispatcher) Extract(ctx context.Context, sourceURL string, body []byte, mediaType string) Result {
	kind := KindFor(mediaType)
	res := Result{Kind: kind}
	switch kind {
	case KindHTML:
		page, err := d.html.Parse(sourceURL, body)
		if err != nil {
			d.logger.Warn("html extraction failed", zap.String("url", sourceURL), zap.Error(err))
			return res
		}
		res.Text = page.Text
		res.Links = page.Links
		res.DocumentLinks = page.DocumentLinks
	case KindPDF:
		res.Text = d.run(ctx, "pdf", sourceURL, d.pdf, body)
	case KindImage:
		res.Text = d.run(ctx, "ocr", sourceURL, d.ocr, body)
	default:
		d.logger.Debug("unsupported media type skipped",
			zap.String("url", sourceURL),
			zap.String("media_type", mediaType),
		)
	}
	return res
}

func (d *Dispatcher) run(
	ctx context.Context,
	name string,
	sourceURL string,
	extractor crawler.TextExtractor,
	body []byte,
) (text string) {
	if extractor == nil {
		d.logger.Debug("no extractor configured", zap.String("extractor", name), zap.String("url", sourceURL))
		return ""
	}
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("extractor panicked",
				zap.String("extractor", name),
				zap.String("url", sourceURL),
				zap.String("panic", fmt.Sprint(rec)),
			)
			text = ""
		}
	}()
	out, err := extractor.ExtractText(ctx, body)
	if err != nil {
		d.logger.Warn("text extraction failed",
			zap.String("extractor", name),
			zap.String("url", sourceURL),
			zap.Error(err),
		)
		return ""
	}
	return out
}
