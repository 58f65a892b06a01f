// Package llm is a minimal client for an Ollama-compatible chat endpoint.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/justestif/moodtune/internal/failure"
)

const (
	DefaultHost    = "http://localhost:11434"
	DefaultModel   = "llama3.1:8b"
	DefaultTimeout = 20 * time.Second
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

// Client sends single-turn chat requests that ask for a JSON reply.
type Client struct {
	http  *resty.Client
	model string
}

// NewClient creates a client for host. Empty host or model use the defaults;
// timeout <= 0 uses DefaultTimeout.
func NewClient(host, model string, timeout time.Duration) *Client {
	host = strings.TrimRight(host, "/")
	if host == "" {
		host = DefaultHost
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		http: resty.New().
			SetBaseURL(host).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		model: model,
	}
}

// Complete sends a system and user message and returns the assistant's reply
// text. Errors wrap failure.ErrNetwork, failure.ErrRateLimited or
// failure.ErrMalformedResponse.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:  c.model,
			Stream: false,
			Format: "json",
			Messages: []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: prompt},
			},
		}).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/api/chat")

	if err != nil {
		if resp != nil && resp.IsSuccess() {
			return "", fmt.Errorf("llm: decoding response: %w: %w", failure.ErrMalformedResponse, err)
		}
		return "", fmt.Errorf("llm: request failed: %w: %w", failure.ErrNetwork, err)
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return "", fmt.Errorf("llm: %w", failure.ErrRateLimited)
	case resp.IsError():
		return "", fmt.Errorf("llm: unexpected status %d: %w", resp.StatusCode(), failure.ErrNetwork)
	}

	if out.Error != "" {
		return "", fmt.Errorf("llm: %s: %w", out.Error, failure.ErrMalformedResponse)
	}
	content := strings.TrimSpace(out.Message.Content)
	if content == "" {
		return "", fmt.Errorf("llm: empty response: %w", failure.ErrMalformedResponse)
	}
	return content, nil
}
