package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github/itish2003/visiondoc/config"
)

// Scorer assigns one relevance score per passage, aligned with the input order.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// New returns the configured scorer.
func New(cfg config.RerankConfig) (Scorer, error) {
	hc := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Provider {
	case "tei":
		return NewTEI(cfg.URL, hc), nil
	case "cohere":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("cohere reranker requires rerank.api_key or RERANK_API_KEY")
		}
		return NewCohere(cfg.URL, cfg.APIKey, cfg.Model, hc), nil
	case "none":
		return RecallOrder{}, nil
	default:
		return nil, fmt.Errorf("unsupported rerank provider: %s", cfg.Provider)
	}
}

// RecallOrder keeps the recall order by scoring earlier passages higher.
type RecallOrder struct{}

// Score returns descending scores so the recall order is kept.
func (RecallOrder) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	scores := make([]float64, len(passages))
	for i := range passages {
		scores[i] = float64(len(passages) - i)
	}
	return scores, nil
}

// postJSON sends body to url and decodes a 200 response into out.
func postJSON(ctx context.Context, hc *http.Client, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call rerank api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("rerank api returned non-200 status: %d, body: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode rerank response: %w", err)
	}
	return nil
}

// scatter places index-addressed scores back into input order.
// Passages the backend did not return keep the lowest possible score.
func scatter(n int, results []indexedScore) ([]float64, error) {
	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, r := range results {
		if r.Index < 0 || r.Index >= n {
			return nil, fmt.Errorf("rerank api returned out-of-range index %d for %d passages", r.Index, n)
		}
		scores[r.Index] = r.Score
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			scores[i] = -1e9
		}
	}
	return scores, nil
}

type indexedScore struct {
	Index int
	Score float64
}

var defaultTimeout = 60 * time.Second

func orDefault(hc *http.Client) *http.Client {
	if hc == nil || hc.Timeout == 0 {
		return &http.Client{Timeout: defaultTimeout}
	}
	return hc
}
