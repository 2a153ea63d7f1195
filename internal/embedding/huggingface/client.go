// Package huggingface is an embedding.Provider backed by the Hugging Face
// hosted inference API.
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/captioner/internal/embedding"
)

const (
	DefaultBaseURL = "https://api-inference.huggingface.co"
	DefaultModel   = "mixedbread-ai/mxbai-embed-large-v1"
)

// Client calls the feature-extraction endpoint of one hosted model.
type Client struct {
	baseURL    string
	model      string
	token      string
	httpClient *http.Client
}

var _ embedding.Provider = (*Client)(nil)

// New creates a Client. Empty baseURL or model fall back to the defaults.
func New(baseURL, model, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// ID implements embedding.Provider.
func (c *Client) ID() string { return "huggingface:" + c.model }

type options struct {
	WaitForModel bool `json:"wait_for_model"`
}

type request struct {
	Inputs  string  `json:"inputs"`
	Options options `json:"options"`
}

// Embed implements embedding.Provider.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(request{Inputs: text, Options: options{WaitForModel: true}})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/"+c.model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, embedding.ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &embedding.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embed response: %w", err)
	}
	return decodeVector(raw)
}

// decodeVector accepts a flat numeric array or a single nested row.
func decodeVector(raw []byte) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil {
		if len(flat) == 0 {
			return nil, fmt.Errorf("empty vector: %w", embedding.ErrMalformedResponse)
		}
		return flat, nil
	}

	var nested [][]float32
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("decoding embed response: %v: %w", err, embedding.ErrMalformedResponse)
	}
	if len(nested) != 1 || len(nested[0]) == 0 {
		return nil, fmt.Errorf("expected one embedding row, got %d: %w", len(nested), embedding.ErrMalformedResponse)
	}
	return nested[0], nil
}
