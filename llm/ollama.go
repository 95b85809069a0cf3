package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Ollama talks to a local Ollama server through langchaingo.
type Ollama struct {
	llm   llms.Model
	model string
}

var _ Model = (*Ollama)(nil)

// NewOllama creates a client for one Ollama model.
func NewOllama(model, serverURL string) (*Ollama, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	client, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client for %q: %w", model, err)
	}
	return &Ollama{llm: client, model: model}, nil
}

// Generate sends a single-turn prompt.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, o.llm, prompt)
	if err != nil {
		return "", fmt.Errorf("ollama %s generate failed: %w", o.model, err)
	}
	return strings.TrimSpace(out), nil
}

// DescribeImage sends the image with the instruction to a multimodal model.
func (o *Ollama) DescribeImage(ctx context.Context, image []byte, mimeType, instruction string) (string, error) {
	resp, err := o.llm.GenerateContent(ctx, []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mimeType, image),
				llms.TextPart(instruction),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ollama %s vision call failed: %w", o.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("ollama %s returned no choices", o.model)
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
