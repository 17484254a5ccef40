// Package extract feeds attachment bytes to an external text-extraction
// service. The whole component is optional: with no endpoint configured the
// pipeline uses Disabled.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Extractor turns attachment bytes into plain text. A failure only costs
// the extracted text of one attachment, never the row.
type Extractor interface {
	Extract(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// Disabled extracts nothing.
type Disabled struct{}

func (Disabled) Extract(context.Context, string, string, []byte) (string, error) {
	return "", nil
}

const maxResponseBytes = 256 << 10

// Client posts attachment bytes to an extraction endpoint and reads back
// {"text": "..."}.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *slog.Logger
}

// New creates an extraction client for endpoint. apiKey may be empty.
func New(endpoint, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 60 * time.Second},
		logger:   logger,
	}
}

func (c *Client) Extract(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build extract request: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Filename", filename)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("extract %q: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extract %q: unexpected status %s", filename, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("extract %q: read response: %w", filename, err)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("extract %q: decode response: %w", filename, err)
	}
	return out.Text, nil
}
