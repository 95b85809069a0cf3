package rerank

import (
	"context"
	"net/http"
	"strings"
)

// TEI scores with a cross-encoder served by text-embeddings-inference.
type TEI struct {
	url        string
	httpClient *http.Client
}

var _ Scorer = (*TEI)(nil)

type teiRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type teiResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// NewTEI creates a client for a text-embeddings-inference /rerank endpoint.
func NewTEI(baseURL string, hc *http.Client) *TEI {
	return &TEI{url: strings.TrimRight(baseURL, "/") + "/rerank", httpClient: orDefault(hc)}
}

// Score returns one score per passage, aligned with the input.
func (t *TEI) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	var results []teiResult
	err := postJSON(ctx, t.httpClient, t.url, nil, teiRequest{
		Query:    query,
		Texts:    passages,
		Truncate: true,
	}, &results)
	if err != nil {
		return nil, err
	}
	scored := make([]indexedScore, len(results))
	for i, r := range results {
		scored[i] = indexedScore{Index: r.Index, Score: r.Score}
	}
	return scatter(len(passages), scored)
}
