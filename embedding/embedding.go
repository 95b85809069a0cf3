package embedding

import (
	"context"
	"fmt"

	"github/itish2003/visiondoc/config"

	"google.golang.org/genai"
)

// Embedder maps texts to fixed-dimension vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// New returns the configured embedder. gemini may be nil when the provider is ollama.
func New(cfg config.EmbeddingConfig, ollamaURL string, gemini *genai.Client) (Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg.Model, ollamaURL, cfg.BatchSize)
	case "gemini":
		if gemini == nil {
			return nil, fmt.Errorf("gemini embedding selected but no Gemini client is configured")
		}
		return NewGemini(gemini, cfg.Model, cfg.BatchSize), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// inBatches calls fn on consecutive slices of at most size texts and joins the results.
func inBatches(ctx context.Context, texts []string, size int, fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if size <= 0 {
		size = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedding batch %d-%d: expected %d vectors, got %d", start, end, end-start, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}
