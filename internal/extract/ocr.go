package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTesseractBinary is looked up on PATH when no binary is configured.
const DefaultTesseractBinary = "tesseract"

// OCRConfig controls the tesseract invocation.
type OCRConfig struct {
	Binary   string
	Language string
	Timeout  time.Duration
}

// TesseractOCR recognizes text in images by piping them through the
// tesseract command line tool.
type TesseractOCR struct {
	cfg OCRConfig
	run func(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)
}

// NewTesseractOCR builds an OCR extractor.
func NewTesseractOCR(cfg OCRConfig) *TesseractOCR {
	if cfg.Binary == "" {
		cfg.Binary = DefaultTesseractBinary
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	return &TesseractOCR{cfg: cfg, run: runCommand}
}

// Available reports whether the configured binary can be found.
func (o *TesseractOCR) Available() bool {
	_, err := exec.LookPath(o.cfg.Binary)
	return err == nil
}

// ExtractText returns the recognized text of an image.
func (o *TesseractOCR) ExtractText(ctx context.Context, body []byte) (string, error) {
	if len(body) == 0 {
		return "", errors.New("empty image body")
	}
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}
	out, err := o.run(ctx, o.cfg.Binary, []string{"stdin", "stdout", "-l", o.cfg.Language}, body)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func runCommand(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}
