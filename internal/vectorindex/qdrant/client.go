// Package qdrant implements crawler.VectorIndex against the Qdrant REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag/internal/crawler"
)

// DefaultURL is Qdrant's default REST listener.
const DefaultURL = "http://localhost:6333"

const maxErrorBody = 512

var _ crawler.VectorIndex = (*Client)(nil)

// Config configures the REST client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client is a thin JSON client for the collection and point endpoints.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New creates a Client. A nil httpClient uses http.DefaultClient.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger.Named("qdrant")}
}

// Endpoint returns the base URL, used in diagnostics.
func (c *Client) Endpoint() string {
	return c.cfg.URL
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type vectorParams struct {
	Size     int              `json:"size"`
	Distance crawler.Distance `json:"distance"`
}

type collectionResult struct {
	PointsCount *int `json:"points_count"`
	Config      struct {
		Params struct {
			Vectors vectorParams `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

type pointStruct struct {
	ID      string          `json:"id"`
	Vector  []float32       `json:"vector"`
	Payload crawler.Payload `json:"payload"`
}

type scoredPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload crawler.Payload `json:"payload"`
}

// GetCollection returns collection metadata or crawler.ErrCollectionNotFound.
func (c *Client) GetCollection(ctx context.Context, name string) (crawler.CollectionInfo, error) {
	var res collectionResult
	if err := c.do(ctx, http.MethodGet, collectionPath(name), nil, &res); err != nil {
		return crawler.CollectionInfo{}, err
	}
	info := crawler.CollectionInfo{
		Name:       name,
		VectorSize: res.Config.Params.Vectors.Size,
		Distance:   res.Config.Params.Vectors.Distance,
	}
	if res.PointsCount != nil {
		info.PointsCount = *res.PointsCount
	}
	return info, nil
}

// CreateCollection creates a collection with a single unnamed vector.
func (c *Client) CreateCollection(ctx context.Context, name string, dimension int, distance crawler.Distance) error {
	body := map[string]any{"vectors": vectorParams{Size: dimension, Distance: distance}}
	if err := c.do(ctx, http.MethodPut, collectionPath(name), body, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	c.logger.Info("collection created", zap.String("collection", name), zap.Int("dimension", dimension))
	return nil
}

// Upsert writes points and waits for them to be applied.
func (c *Client) Upsert(ctx context.Context, collection string, points []crawler.Point) error {
	if len(points) == 0 {
		return nil
	}
	wire := make([]pointStruct, 0, len(points))
	for _, p := range points {
		wire = append(wire, pointStruct{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
	}
	path := collectionPath(collection) + "/points?wait=true"
	if err := c.do(ctx, http.MethodPut, path, map[string]any{"points": wire}, nil); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search returns the nearest points with their payloads, best first.
func (c *Client) Search(
	ctx context.Context,
	collection string,
	vector []float32,
	limit int,
) ([]crawler.ScoredPoint, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var hits []scoredPoint
	if err := c.do(ctx, http.MethodPost, collectionPath(collection)+"/points/search", body, &hits); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	out := make([]crawler.ScoredPoint, 0, len(hits))
	for _, h := range hits {
		out = append(out, crawler.ScoredPoint{ID: pointID(h.ID), Score: h.Score, Payload: h.Payload})
	}
	return out, nil
}

// DeleteCollection drops a collection and all of its points.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, collectionPath(name), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant unreachable at %s: %w", c.cfg.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return crawler.ErrCollectionNotFound
	}
	if resp.StatusCode == http.StatusConflict {
		return crawler.ErrCollectionExists
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("qdrant %s %s returned %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

// pointID renders a Qdrant id, which is either a UUID string or an integer.
func pointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatUint(n, 10)
	}
	return string(raw)
}
