package model

import (
	"context"

	"rlmd/internal/config"
	"rlmd/internal/logging"
)

// NewFromConfig builds a Client from the LLM section of the config.
// A missing or unusable backend degrades to NoopClient rather than failing:
// the surrounding system must stay testable and demoable without live model
// access.
func NewFromConfig(ctx context.Context, cfg *config.Config) Client {
	switch cfg.LLM.Provider {
	case "azure":
		client, err := NewAzureOpenAIClient(AzureConfig{
			Endpoint:   cfg.LLM.Endpoint,
			APIKey:     cfg.LLM.APIKey,
			Deployment: cfg.LLM.Deployment,
			APIVersion: cfg.LLM.APIVersion,
			MaxTokens:  cfg.LLM.MaxTokens,
			Timeout:    cfg.LLMTimeout(),
		})
		if err != nil {
			logging.ModelError("azure client not initialized: %v", err)
			return NoopClient{}
		}
		logging.Model("using azure backend, deployment %s", cfg.LLM.Deployment)
		return client
	case "gemini":
		client, err := NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Deployment, cfg.LLM.MaxTokens)
		if err != nil {
			logging.ModelError("gemini client not initialized: %v", err)
			return NoopClient{}
		}
		logging.Model("using gemini backend, model %s", cfg.LLM.Deployment)
		return client
	default:
		logging.Model("no model backend configured, using noop client")
		return NoopClient{}
	}
}
