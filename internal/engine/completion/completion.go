// Package completion injects the LLM text-completion capability into the
// workflow engine. With no API key configured the deterministic mock is
// used instead of the remote service.
package completion

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

type Request struct {
	SystemPrompt string  `json:"system_prompt,omitempty"`
	UserPrompt   string  `json:"user_prompt"`
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

type Response struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	TokensUsed int    `json:"tokens_used"`
}

type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Mock returns deterministic responses derived from the prompt so runs are
// reproducible in tests and development.
type Mock struct{}

var _ Client = (*Mock)(nil)

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Complete(_ context.Context, req Request) (*Response, error) {
	sum := sha256.Sum256([]byte(req.SystemPrompt + "\x00" + req.UserPrompt))
	model := req.Model
	if model == "" {
		model = "mock-completion-v1"
	}
	return &Response{
		Content:    fmt.Sprintf("mock completion %s for: %s", hex.EncodeToString(sum[:6]), truncate(req.UserPrompt, 120)),
		Model:      model,
		TokensUsed: (len(req.UserPrompt) + 3) / 4,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// HTTPClient calls the completion service over HTTP.
type HTTPClient struct {
	url    string
	apiKey string
	client *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(url, apiKey string) *HTTPClient {
	return &HTTPClient{url: url, apiKey: apiKey, client: http.DefaultClient}
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/completions", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call completion service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("completion service returned status %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode completion response: %w", err)
	}
	return &out, nil
}
