// Package ai selects and constructs the text-generation provider used to
// customize templates and repair failed builds.
package ai

import (
	"fmt"

	"github.com/sitesmith/sitesmith/internal/ai/anthropic"
	"github.com/sitesmith/sitesmith/internal/ai/ollama"
	"github.com/sitesmith/sitesmith/internal/ai/openai"
	"github.com/sitesmith/sitesmith/internal/ai/vllm"
	"github.com/sitesmith/sitesmith/internal/config"
	"github.com/sitesmith/sitesmith/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.AIProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, anthropic", cfg.Provider)
	}
}
