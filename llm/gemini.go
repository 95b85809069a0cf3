package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini calls the Gemini API through the shared genai client.
type Gemini struct {
	client *genai.Client
	model  string
}

var _ Model = (*Gemini)(nil)

// NewGemini wraps a shared client for one model.
func NewGemini(client *genai.Client, model string) *Gemini {
	return &Gemini{client: client, model: model}
}

// Generate sends a single-turn prompt.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini api call failed: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// DescribeImage sends the image inline with the instruction.
func (g *Gemini) DescribeImage(ctx context.Context, image []byte, mimeType, instruction string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(instruction),
		}, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini vision call failed: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
