// Package ollama talks to an Ollama server for embeddings and text
// generation over its REST API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag/internal/crawler"
)

// Defaults matching a stock local Ollama install.
const (
	DefaultBaseURL       = "http://localhost:11434"
	DefaultEmbedModel    = "nomic-embed-text"
	DefaultGenerateModel = "llama3.1:8b"
)

// maxErrorBody bounds how much of a failed response is echoed into errors.
const maxErrorBody = 512

var (
	_ crawler.Embedder  = (*Embedder)(nil)
	_ crawler.Generator = (*Generator)(nil)
)

// Config describes one Ollama endpoint and model.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

func (c Config) withDefaults(model string) Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = model
	}
	return c
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Embedder produces embeddings through POST /api/embeddings.
type Embedder struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewEmbedder creates an Embedder. A nil client uses http.DefaultClient.
func NewEmbedder(cfg Config, client *http.Client, logger *zap.Logger) *Embedder {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{cfg: cfg.withDefaults(DefaultEmbedModel), client: client, logger: logger.Named("ollama_embed")}
}

// Endpoint returns the base URL the embedder calls.
func (e *Embedder) Endpoint() string {
	return e.cfg.BaseURL
}

// Embed returns the embedding for text. Transport failures and non-2xx
// responses wrap crawler.ErrEmbeddingUnavailable. A 2xx response without a
// vector yields an empty slice and no error.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResponse
	err := postJSON(ctx, e.client, e.cfg.Timeout, e.cfg.BaseURL+"/api/embeddings",
		embedRequest{Model: e.cfg.Model, Prompt: text}, &out)
	if err != nil {
		e.logger.Debug("embedding request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", crawler.ErrEmbeddingUnavailable, err)
	}
	return out.Embedding, nil
}

// Generator produces completions through POST /api/generate.
type Generator struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewGenerator creates a Generator. A nil client uses http.DefaultClient.
func NewGenerator(cfg Config, client *http.Client, logger *zap.Logger) *Generator {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{cfg: cfg.withDefaults(DefaultGenerateModel), client: client, logger: logger.Named("ollama_generate")}
}

// Generate returns the full, non-streamed completion for prompt.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	var out generateResponse
	err := postJSON(ctx, g.client, g.cfg.Timeout, g.cfg.BaseURL+"/api/generate",
		generateRequest{Model: g.cfg.Model, Prompt: prompt, Stream: false}, &out)
	if err != nil {
		g.logger.Warn("generation request failed", zap.Error(err))
		return "", err
	}
	return out.Response, nil
}

func postJSON(ctx context.Context, client *http.Client, timeout time.Duration, endpoint string, in, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError reports a non-2xx response from Ollama.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama returned %d", e.Code)
	}
	return fmt.Sprintf("ollama returned %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
