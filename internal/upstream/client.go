// Package upstream wraps the authenticated transport to the Cloud Code
// service. Grounded directly on the teacher's internal/llm/google/client.go:
// a genai.Client configured with an APIKey and a BaseURL override, driving
// requests through Models.GenerateContent / Models.GenerateContentStream
// rather than hand-rolled HTTP and SSE parsing — genai's client already
// speaks the wire dialect described in spec.md §6's "Upstream contract".
package upstream

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"ccbridge/internal/observability"
)

// Config is the subset of internal/config.Config the upstream transport
// needs.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a thin, request-scoped-context wrapper over genai.Client.
type Client struct {
	genai *genai.Client
}

// New constructs a Client. httpClient should already be instrumented via
// observability.NewHTTPClient; New does not wrap it itself so callers can
// share one instrumented client across upstream and any other outbound
// transport.
func New(ctx context.Context, cfg Config, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = observability.NewHTTPClient(nil)
	}

	opts := genai.HTTPOptions{}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts.BaseURL = strings.TrimSuffix(base, "/") + "/"
	}
	if cfg.Timeout > 0 {
		t := cfg.Timeout
		opts.Timeout = &t
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      strings.TrimSpace(cfg.APIKey),
		HTTPClient:  httpClient,
		HTTPOptions: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("init upstream client: %w", err)
	}
	return &Client{genai: client}, nil
}

// GenerateContent issues a single non-streaming request (C7's stream:false
// path: the whole response is consumed before C3 renders it).
func (c *Client) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return c.genai.Models.GenerateContent(ctx, model, contents, cfg)
}

// GenerateContentStream issues a streaming request, returning the SDK's
// range-over-func iterator of (chunk, error) pairs that C5's Pipeline
// consumes directly.
func (c *Client) GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	return c.genai.Models.GenerateContentStream(ctx, model, contents, cfg)
}
