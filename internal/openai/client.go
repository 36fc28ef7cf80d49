package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com/v1/chat/completions"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second
)

type Client interface {
	CompleteJSON(ctx context.Context, req CompletionRequest) (string, error)
}

type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Timeout      time.Duration
}

type ClientConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// HTTPClient talks to any chat-completions compatible endpoint in JSON mode.
type HTTPClient struct {
	cfg        ClientConfig
	httpClient *http.Client
}

func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &HTTPClient{cfg: cfg, httpClient: &http.Client{}}
}

func (c *HTTPClient) Model() string {
	return c.cfg.Model
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("openai request failed (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("openai request failed with status %d", e.StatusCode)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (c *HTTPClient) CompleteJSON(ctx context.Context, req CompletionRequest) (string, error) {
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("OPENAI_API_KEY is required")
	}

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		if resp.StatusCode >= 400 {
			return "", &APIError{StatusCode: resp.StatusCode}
		}
		return "", fmt.Errorf("unable to parse openai response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if parsed.Error != nil {
			apiErr.Message = parsed.Error.Message
		}
		return "", apiErr
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai returned zero choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("openai returned empty content")
	}
	return content, nil
}
