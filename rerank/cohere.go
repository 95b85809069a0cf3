package rerank

import (
	"context"
	"net/http"
)

const cohereRerankURL = "https://api.cohere.ai/v1/rerank"

// Cohere scores with the Cohere Rerank API.
type Cohere struct {
	url        string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ Scorer = (*Cohere)(nil)

type cohereRerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

type cohereRerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type cohereRerankResponse struct {
	Results []cohereRerankResult `json:"results"`
}

// NewCohere creates a Cohere scorer. An empty url targets the public API.
func NewCohere(url, apiKey, model string, hc *http.Client) *Cohere {
	if url == "" {
		url = cohereRerankURL
	}
	return &Cohere{url: url, apiKey: apiKey, model: model, httpClient: orDefault(hc)}
}

// Score returns one relevance score per passage, aligned with the input.
func (c *Cohere) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	var resp cohereRerankResponse
	err := postJSON(ctx, c.httpClient, c.url, map[string]string{"Authorization": "Bearer " + c.apiKey}, cohereRerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: passages,
		TopN:      len(passages),
	}, &resp)
	if err != nil {
		return nil, err
	}
	scored := make([]indexedScore, len(resp.Results))
	for i, r := range resp.Results {
		scored[i] = indexedScore{Index: r.Index, Score: r.RelevanceScore}
	}
	return scatter(len(passages), scored)
}
