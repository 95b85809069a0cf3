package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Gemini embeds through the Gemini API.
type Gemini struct {
	client    *genai.Client
	model     string
	batchSize int
}

var _ Embedder = (*Gemini)(nil)

// NewGemini creates an embedder on a shared client.
func NewGemini(client *genai.Client, model string, batchSize int) *Gemini {
	return &Gemini{client: client, model: model, batchSize: batchSize}
}

// Embed returns one vector per text, in input order.
func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return inBatches(ctx, texts, g.batchSize, func(ctx context.Context, batch []string) ([][]float32, error) {
		contents := make([]*genai.Content, 0, len(batch))
		for _, t := range batch {
			contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
		}
		resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get embeddings from gemini: %w", err)
		}
		vecs := make([][]float32, 0, len(resp.Embeddings))
		for _, e := range resp.Embeddings {
			vecs = append(vecs, e.Values)
		}
		return vecs, nil
	})
}
