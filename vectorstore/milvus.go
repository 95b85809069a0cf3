package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github/itish2003/visiondoc/config"
	"github/itish2003/visiondoc/models"
)

// Schema fields of a generation collection.
const (
	FieldID         = "id"
	FieldSource     = "source"
	FieldPageNumber = "page_number"
	FieldContent    = "content"
	FieldEmbedding  = "embedding"

	milvusMaxVarChar = 65535
	milvusMaxID      = 512
)

// Milvus stores each generation as its own Milvus collection.
type Milvus struct {
	client client.Client
	metric entity.MetricType
}

var _ Store = (*Milvus)(nil)

// NewMilvus connects to the configured address. The metric defaults to COSINE.
func NewMilvus(ctx context.Context, cfg config.MilvusConfig) (*Milvus, error) {
	c, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", cfg.Address, err)
	}
	metric := entity.MetricType(cfg.MetricType)
	if metric == "" {
		metric = entity.COSINE
	}
	return &Milvus{client: c, metric: metric}, nil
}

// Build creates, indexes, fills and loads a new collection. On any failure
// the collection is dropped.
func (m *Milvus) Build(ctx context.Context, name string, records []models.FusedRecord, vectors [][]float32) (Index, error) {
	dim, err := checkBuildInput(records, vectors)
	if err != nil {
		return nil, err
	}

	schema := entity.NewSchema().
		WithName(name).
		WithDescription("fused PDF page records").
		WithField(entity.NewField().WithName(FieldID).WithDataType(entity.FieldTypeVarChar).WithIsPrimaryKey(true).WithMaxLength(milvusMaxID)).
		WithField(entity.NewField().WithName(FieldSource).WithDataType(entity.FieldTypeVarChar).WithMaxLength(milvusMaxID)).
		WithField(entity.NewField().WithName(FieldPageNumber).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(FieldContent).WithDataType(entity.FieldTypeVarChar).WithMaxLength(milvusMaxVarChar)).
		WithField(entity.NewField().WithName(FieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim)))

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return nil, fmt.Errorf("failed to create milvus collection '%s': %w", name, err)
	}

	fail := func(err error) (Index, error) {
		_ = m.client.DropCollection(ctx, name)
		return nil, err
	}

	idx, err := entity.NewIndexAUTOINDEX(m.metric)
	if err != nil {
		return fail(fmt.Errorf("failed to build milvus index params: %w", err))
	}
	if err := m.client.CreateIndex(ctx, name, FieldEmbedding, idx, false); err != nil {
		return fail(fmt.Errorf("failed to create milvus index on '%s': %w", name, err))
	}

	ids := make([]string, len(records))
	sources := make([]string, len(records))
	pages := make([]int64, len(records))
	contents := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
		sources[i] = r.Source
		pages[i] = int64(r.PageNumber)
		contents[i] = clipUTF8(r.Content, milvusMaxVarChar)
	}
	_, err = m.client.Insert(ctx, name, "",
		entity.NewColumnVarChar(FieldID, ids),
		entity.NewColumnVarChar(FieldSource, sources),
		entity.NewColumnInt64(FieldPageNumber, pages),
		entity.NewColumnVarChar(FieldContent, contents),
		entity.NewColumnFloatVector(FieldEmbedding, dim, vectors),
	)
	if err != nil {
		return fail(fmt.Errorf("failed to insert data into milvus: %w", err))
	}
	if err := m.client.Flush(ctx, name, false); err != nil {
		return fail(fmt.Errorf("failed to flush milvus collection '%s': %w", name, err))
	}
	if err := m.client.LoadCollection(ctx, name, false); err != nil {
		return fail(fmt.Errorf("failed to load milvus collection '%s': %w", name, err))
	}
	return &milvusIndex{name: name, store: m}, nil
}

// Open loads an existing collection.
func (m *Milvus) Open(ctx context.Context, name string) (Index, error) {
	exists, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check milvus collection '%s': %w", name, err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	if err := m.client.LoadCollection(ctx, name, false); err != nil {
		return nil, fmt.Errorf("failed to load milvus collection '%s': %w", name, err)
	}
	return &milvusIndex{name: name, store: m}, nil
}

// Close closes the gRPC connection.
func (m *Milvus) Close() error {
	return m.client.Close()
}

type milvusIndex struct {
	name  string
	store *Milvus
}

func (i *milvusIndex) Name() string { return i.name }

// Query runs an ANN search over the embedding field.
func (i *milvusIndex) Query(ctx context.Context, vector []float32, k int) ([]models.RetrievalCandidate, error) {
	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, fmt.Errorf("failed to build milvus search params: %w", err)
	}
	results, err := i.store.client.Search(
		ctx, i.name, []string{}, "",
		[]string{FieldID, FieldSource, FieldPageNumber, FieldContent},
		[]entity.Vector{entity.FloatVector(vector)},
		FieldEmbedding, i.store.metric, k, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search in milvus: %w", err)
	}

	var out []models.RetrievalCandidate
	for _, res := range results {
		findColumn := func(name string) entity.Column {
			for _, field := range res.Fields {
				if field.Name() == name {
					return field
				}
			}
			return nil
		}
		idCol, ok := findColumn(FieldID).(*entity.ColumnVarChar)
		if !ok {
			continue
		}
		var sources, contents []string
		var pages []int64
		if c, ok := findColumn(FieldSource).(*entity.ColumnVarChar); ok {
			sources = c.Data()
		}
		if c, ok := findColumn(FieldContent).(*entity.ColumnVarChar); ok {
			contents = c.Data()
		}
		if c, ok := findColumn(FieldPageNumber).(*entity.ColumnInt64); ok {
			pages = c.Data()
		}

		ids := idCol.Data()
		for j := 0; j < res.ResultCount; j++ {
			rec := models.FusedRecord{ID: ids[j]}
			if j < len(sources) {
				rec.Source = sources[j]
			}
			if j < len(contents) {
				rec.Content = contents[j]
			}
			if j < len(pages) {
				rec.PageNumber = int(pages[j])
			}
			cand := models.RetrievalCandidate{Record: rec, RecallRank: len(out)}
			if j < len(res.Scores) {
				cand.RecallScore = float64(res.Scores[j])
			}
			out = append(out, cand)
		}
	}
	return out, nil
}

// Page runs a scalar query on the source and page fields.
func (i *milvusIndex) Page(ctx context.Context, source string, page int) ([]models.FusedRecord, error) {
	expr := fmt.Sprintf("%s == %s && %s == %d", FieldSource, strconv.Quote(source), FieldPageNumber, page)
	rs, err := i.store.client.Query(ctx, i.name, nil, expr, []string{FieldID, FieldContent})
	if err != nil {
		return nil, fmt.Errorf("failed to query page %d of %s in milvus: %w", page, source, err)
	}
	idCol, ok := rs.GetColumn(FieldID).(*entity.ColumnVarChar)
	if !ok {
		return nil, nil
	}
	var contents []string
	if c, ok := rs.GetColumn(FieldContent).(*entity.ColumnVarChar); ok {
		contents = c.Data()
	}

	ids := idCol.Data()
	out := make([]models.FusedRecord, 0, len(ids))
	for j, id := range ids {
		rec := models.FusedRecord{ID: id, Source: source, PageNumber: page}
		if j < len(contents) {
			rec.Content = contents[j]
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count reads the row count from the collection statistics.
func (i *milvusIndex) Count(ctx context.Context) (int, error) {
	stats, err := i.store.client.GetCollectionStatistics(ctx, i.name)
	if err != nil {
		return 0, fmt.Errorf("failed to read milvus statistics for '%s': %w", i.name, err)
	}
	n, err := strconv.Atoi(stats["row_count"])
	if err != nil {
		return 0, fmt.Errorf("unexpected milvus row_count %q: %w", stats["row_count"], err)
	}
	return n, nil
}

// Drop drops the collection.
func (i *milvusIndex) Drop(ctx context.Context) error {
	if err := i.store.client.DropCollection(ctx, i.name); err != nil {
		return fmt.Errorf("failed to drop milvus collection '%s': %w", i.name, err)
	}
	return nil
}

// clipUTF8 truncates s to at most n bytes without splitting a rune.
func clipUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
