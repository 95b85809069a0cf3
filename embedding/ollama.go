package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// Ollama embeds through a local Ollama server.
type Ollama struct {
	client    *ollama.Client
	model     string
	batchSize int
}

var _ Embedder = (*Ollama)(nil)

// NewOllama creates an embedder for one Ollama model.
func NewOllama(model, baseURL string, batchSize int) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL: %w", err)
	}
	hc := &http.Client{Timeout: 120 * time.Second}
	return &Ollama{client: ollama.NewClient(parsed, hc), model: model, batchSize: batchSize}, nil
}

// Embed returns one vector per text, in input order.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return inBatches(ctx, texts, o.batchSize, func(ctx context.Context, batch []string) ([][]float32, error) {
		resp, err := o.client.Embed(ctx, &ollama.EmbedRequest{
			Model: o.model,
			Input: batch,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get embeddings from ollama: %w", err)
		}
		return resp.Embeddings, nil
	})
}
