package model

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"rlmd/internal/logging"
	"rlmd/internal/metrics"
)

// GeminiClient implements Client using the Google GenAI SDK.
type GeminiClient struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, apiKey, modelName string, maxTokens int) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key required")
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		client:    client,
		model:     modelName,
		maxTokens: maxTokens,
	}, nil
}

// Complete sends a bare prompt.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.CompleteChat(ctx, systemPrompt, []Turn{{Role: "user", Content: userPrompt}})
}

// CompleteChat sends the system instruction plus the full turn history.
// Assistant turns map to the model role; everything else maps to user.
func (c *GeminiClient) CompleteChat(ctx context.Context, systemPrompt string, turns []Turn) (string, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		var role genai.Role = genai.RoleUser
		if t.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(c.maxTokens),
		Temperature:     genai.Ptr[float32](0.1),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	metrics.ModelCalls.WithLabelValues("gemini").Inc()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		metrics.ModelErrors.WithLabelValues("gemini").Inc()
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		metrics.ModelErrors.WithLabelValues("gemini").Inc()
		return "", fmt.Errorf("no completion returned")
	}

	logging.Model("gemini completion: %d chars", len(text))
	return strings.TrimSpace(text), nil
}
