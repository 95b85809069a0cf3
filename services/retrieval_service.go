package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github/itish2003/visiondoc/embedding"
	"github/itish2003/visiondoc/models"
	"github/itish2003/visiondoc/vectorstore"
)

// RecallFunc fetches up to k candidates by embedding similarity.
type RecallFunc func(ctx context.Context, query string, k int) ([]models.RetrievalCandidate, error)

// RerankFunc scores each passage against the query, aligned with the input.
type RerankFunc func(ctx context.Context, query string, passages []string) ([]float64, error)

// IndexRecall embeds the query and searches one index generation.
func IndexRecall(idx vectorstore.Index, embedder embedding.Embedder) RecallFunc {
	return func(ctx context.Context, query string, k int) ([]models.RetrievalCandidate, error) {
		vec, err := embedding.EmbedOne(ctx, embedder, query)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query text: %w", err)
		}
		return idx.Query(ctx, vec, k)
	}
}

// TwoStageRetriever recalls broadly and then re-ranks with a cross-encoder.
type TwoStageRetriever struct {
	recall  RecallFunc
	rerank  RerankFunc
	recallK int
	topK    int
	log     *logrus.Entry
}

// NewTwoStageRetriever creates a retriever that re-ranks recallK candidates
// and keeps the best topK.
func NewTwoStageRetriever(recall RecallFunc, rerank RerankFunc, recallK, topK int, log *logrus.Entry) *TwoStageRetriever {
	return &TwoStageRetriever{recall: recall, rerank: rerank, recallK: recallK, topK: topK, log: log}
}

// Retrieve returns at most topK candidates, best first. If the re-ranker fails
// the recall order is kept.
func (r *TwoStageRetriever) Retrieve(ctx context.Context, query string) ([]models.RetrievalCandidate, error) {
	candidates, err := r.recall(ctx, query, r.recallK)
	if err != nil {
		return nil, fmt.Errorf("recall failed: %w", err)
	}
	if len(candidates) == 0 {
		r.log.Info("Recall returned no candidates")
		return []models.RetrievalCandidate{}, nil
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Record.Content
	}
	scores, err := r.rerank(ctx, query, passages)
	if err == nil && len(scores) != len(candidates) {
		err = fmt.Errorf("re-ranker returned %d scores for %d passages", len(scores), len(candidates))
	}
	if err != nil {
		r.log.WithError(err).Warn("Re-ranking failed, keeping recall order")
		return truncate(candidates, r.topK), nil
	}

	ranked := append([]models.RetrievalCandidate(nil), candidates...)
	for i := range ranked {
		ranked[i].RerankScore = scores[i]
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].RerankScore > ranked[j].RerankScore })

	out := truncate(ranked, r.topK)
	r.log.WithFields(logrus.Fields{"recalled": len(candidates), "returned": len(out)}).Debug("Re-ranked candidates")
	return out, nil
}

func truncate(c []models.RetrievalCandidate, k int) []models.RetrievalCandidate {
	if k >= 0 && len(c) > k {
		return c[:k]
	}
	return c
}

// PageLookup fetches every stored record of one source page.
type PageLookup func(ctx context.Context, source string, page int) ([]models.FusedRecord, error)

// minChunkOverlap is the shortest shared text treated as splitter overlap.
const minChunkOverlap = 10

// ExpandToPages widens chunk hits back to their whole page. The result holds one
// candidate per source page in rank order and each keeps the scores of its best
// ranked hit. When a page cannot be fetched the chunk is kept as it is.
func ExpandToPages(ctx context.Context, lookup PageLookup, ranked []models.RetrievalCandidate, log *logrus.Entry) []models.RetrievalCandidate {
	type pageKey struct {
		source string
		page   int
	}
	seen := make(map[pageKey]bool, len(ranked))
	out := make([]models.RetrievalCandidate, 0, len(ranked))
	for _, c := range ranked {
		key := pageKey{c.Record.Source, c.Record.PageNumber}
		if seen[key] {
			continue
		}
		seen[key] = true

		if _, ok := chunkNumber(c.Record); ok {
			page, err := wholePage(ctx, lookup, c.Record)
			if err != nil {
				log.WithError(err).WithField("record", c.Record.ID).Warn("Could not expand chunk to its page")
			} else {
				c.Record = page
			}
		}
		out = append(out, c)
	}
	return out
}

func wholePage(ctx context.Context, lookup PageLookup, hit models.FusedRecord) (models.FusedRecord, error) {
	stored, err := lookup(ctx, hit.Source, hit.PageNumber)
	if err != nil {
		return hit, err
	}
	type chunk struct {
		n       int
		content string
	}
	var chunks []chunk
	for _, r := range stored {
		if n, ok := chunkNumber(r); ok {
			chunks = append(chunks, chunk{n, r.Content})
		}
	}
	if len(chunks) == 0 {
		return hit, fmt.Errorf("no chunks stored for %s", RecordID(hit.Source, hit.PageNumber))
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].n < chunks[j].n })

	content := chunks[0].content
	for _, c := range chunks[1:] {
		content = mergeChunks(content, c.content)
	}
	page := hit
	page.ID = RecordID(hit.Source, hit.PageNumber)
	page.Content = content
	return page, nil
}

// chunkNumber parses the n of a "{source}#p{page}#c{n}" record ID.
func chunkNumber(r models.FusedRecord) (int, bool) {
	rest, ok := strings.CutPrefix(r.ID, RecordID(r.Source, r.PageNumber)+"#c")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	return n, err == nil
}

// mergeChunks appends next to prev, dropping the text the splitter repeated
// at the start of next. The shared text must begin on a word.
func mergeChunks(prev, next string) string {
	for k := min(len(prev), len(next)); k >= minChunkOverlap; k-- {
		if !strings.HasSuffix(prev, next[:k]) {
			continue
		}
		if start := len(prev) - k; start > 0 && !isSpace(prev[start-1]) {
			continue
		}
		return prev + next[k:]
	}
	return prev + " " + next
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
