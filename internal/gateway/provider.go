package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotInitialized is returned when a provider is used before Init.
var ErrNotInitialized = errors.New("llm provider not initialized")

// ProviderConfig selects and tunes the model backend.
type ProviderConfig struct {
	Backend    string
	Model      string
	OllamaHost string
}

// Provider is a model backend able to answer a prompt with strict JSON.
type Provider interface {
	Init(cfg ProviderConfig) error
	DefaultModel() string
	GenerateJSON(ctx context.Context, prompt, model string) (string, error)
}

// NewProvider builds and initializes the backend named in cfg.
// An empty backend defaults to gemini.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "gemini"
	}
	var p Provider
	switch backend {
	case "gemini":
		p = &geminiProvider{}
	case "ollama":
		p = &ollamaProvider{}
	default:
		return nil, fmt.Errorf("unsupported LLM backend: %s", backend)
	}
	if err := p.Init(cfg); err != nil {
		return nil, err
	}
	return p, nil
}
