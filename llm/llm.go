package llm

import (
	"context"
	"fmt"

	"github/itish2003/visiondoc/config"

	"google.golang.org/genai"
)

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ImageDescriber answers an instruction about a single image.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, image []byte, mimeType, instruction string) (string, error)
}

// Model is a client that can do both.
type Model interface {
	Generator
	ImageDescriber
}

// Factory builds model clients for the configured providers, sharing one
// Gemini client across roles.
type Factory struct {
	gemini    *genai.Client
	ollamaURL string
}

// NewFactory creates a factory. gemini may be nil when only Ollama is used.
func NewFactory(gemini *genai.Client, ollamaURL string) *Factory {
	return &Factory{gemini: gemini, ollamaURL: ollamaURL}
}

// New returns the model client for one role.
func (f *Factory) New(cfg config.ModelConfig) (Model, error) {
	switch cfg.Provider {
	case "gemini":
		if f.gemini == nil {
			return nil, fmt.Errorf("gemini provider selected for model %q but no Gemini client is configured", cfg.Model)
		}
		return NewGemini(f.gemini, cfg.Model), nil
	case "ollama":
		return NewOllama(cfg.Model, f.ollamaURL)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
