package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"rlmd/internal/logging"
	"rlmd/internal/metrics"
)

// AzureOpenAIClient implements Client against the Azure OpenAI chat
// completions API.
type AzureOpenAIClient struct {
	endpoint    string // resource endpoint, e.g. https://myres.openai.azure.com
	apiKey      string
	deployment  string
	apiVersion  string
	maxTokens   int
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// AzureConfig holds configuration for the Azure OpenAI client.
type AzureConfig struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
	MaxTokens  int
	Timeout    time.Duration
}

// DefaultAzureConfig returns sensible defaults for a given endpoint and key.
func DefaultAzureConfig(endpoint, apiKey string) AzureConfig {
	return AzureConfig{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		Deployment: "rlm-root-agent",
		APIVersion: "2024-02-15-preview",
		MaxTokens:  4096,
		Timeout:    120 * time.Second,
	}
}

// NewAzureOpenAIClient creates a new Azure OpenAI client.
func NewAzureOpenAIClient(cfg AzureConfig) (*AzureOpenAIClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure endpoint required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("azure API key required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-02-15-preview"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &AzureOpenAIClient{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		deployment: cfg.Deployment,
		apiVersion: cfg.APIVersion,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// chatRequest is the Azure OpenAI chat completions request body.
type chatRequest struct {
	Messages            []chatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	Temperature         float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the Azure OpenAI chat completions response body.
type chatResponse struct {
	ID      string `json:"id"`
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
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Complete sends a bare prompt.
func (c *AzureOpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *AzureOpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.CompleteChat(ctx, systemPrompt, []Turn{{Role: "user", Content: userPrompt}})
}

// CompleteChat sends the system instruction plus the full turn history.
func (c *AzureOpenAIClient) CompleteChat(ctx context.Context, systemPrompt string, turns []Turn) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}

	// Space out requests to stay under per-deployment rate limits.
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 500*time.Millisecond {
		time.Sleep(500*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	messages := make([]chatMessage, 0, len(turns)+1)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	for _, t := range turns {
		messages = append(messages, chatMessage{Role: t.Role, Content: t.Content})
	}

	reqBody := chatRequest{
		Messages:            messages,
		MaxCompletionTokens: c.maxTokens,
		Temperature:         0.1,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, c.deployment, c.apiVersion)

	// Retry loop for 429s with exponential backoff.
	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * time.Second)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("api-key", c.apiKey)

		metrics.ModelCalls.WithLabelValues("azure").Inc()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.ModelErrors.WithLabelValues("azure").Inc()
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			metrics.ModelErrors.WithLabelValues("azure").Inc()
			return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var chatResp chatResponse
		if err := json.Unmarshal(body, &chatResp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if chatResp.Error != nil {
			metrics.ModelErrors.WithLabelValues("azure").Inc()
			return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
		}
		if len(chatResp.Choices) == 0 {
			return "", fmt.Errorf("no completion returned")
		}

		logging.Model("azure completion: %d prompt tokens, %d completion tokens",
			chatResp.Usage.PromptTokens, chatResp.Usage.CompletionTokens)

		return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
	}

	metrics.ModelErrors.WithLabelValues("azure").Inc()
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}
