package models

import (
	"context"
	"errors"
)

// AIProvider is the core interface all AI integrations implement.
// Never call specific AI providers directly; always inject this interface.
// Generation is a single call returning text; no streaming contract.
type AIProvider interface {
	// Generate produces text for the given prompt.
	Generate(ctx context.Context, prompt string) (string, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}

// Provider error sentinels live here, next to the interface, so provider
// subpackages and callers share them without importing each other.
var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
)
