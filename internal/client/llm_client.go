package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/transflow/api/internal/agent"
	"github.com/transflow/api/internal/config"
)

// LLMClient talks to an OpenAI-compatible chat completions API.
type LLMClient struct {
	client      *resty.Client
	endpoint    string
	apiKey      string
	model       string
	temperature float64
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewLLMClient creates a new chat completions client
func NewLLMClient(cfg *config.LLMConfig) *LLMClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	return &LLMClient{
		client:      client,
		endpoint:    baseURL + "/chat/completions",
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// Complete sends one system + user exchange and returns the reply text.
func (c *LLMClient) Complete(ctx context.Context, p agent.Prompt) (string, error) {
	if !c.IsConfigured() {
		return "", agent.ErrModelUnavailable
	}

	req := ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   p.MaxTokens,
	}
	if p.System != "" {
		req.Messages = append(req.Messages, ChatMessage{Role: "system", Content: p.System})
	}
	req.Messages = append(req.Messages, ChatMessage{Role: "user", Content: p.User})
	if p.JSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var resp ChatCompletionResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(c.endpoint)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil && resp.Error.Message != "" {
			return "", fmt.Errorf("llm API error (status %d): %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return "", fmt.Errorf("llm API error (status %d): %s", httpResp.StatusCode(), truncate(string(httpResp.Body()), 300))
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// ModelName returns the configured model.
func (c *LLMClient) ModelName() string {
	return c.model
}

// IsConfigured returns true if the client has valid configuration
func (c *LLMClient) IsConfigured() bool {
	return c.apiKey != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
