package vectorstore

import (
	"context"
	"fmt"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"

	"github/itish2003/visiondoc/logger"
	"github/itish2003/visiondoc/models"
)

const chromaAddBatch = 256

// Chroma stores each generation as its own Chroma collection.
type Chroma struct {
	client chromago.Client
}

var _ Store = (*Chroma)(nil)

// NewChroma creates an HTTP client. An empty baseURL uses the client default.
func NewChroma(baseURL string) (*Chroma, error) {
	var opts []chromago.ClientOption
	if baseURL != "" {
		opts = append(opts, chromago.WithBaseURL(baseURL))
	}
	client, err := chromago.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma client: %w", err)
	}
	return &Chroma{client: client}, nil
}

// Build creates the collection and adds the records in batches. A partially
// written collection is deleted.
func (c *Chroma) Build(ctx context.Context, name string, records []models.FusedRecord, vectors [][]float32) (Index, error) {
	if _, err := checkBuildInput(records, vectors); err != nil {
		return nil, err
	}

	logger.For("vectorstore").WithField("collection", name).Info("Creating chroma collection")
	collection, err := c.client.GetOrCreateCollection(
		ctx,
		name,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("description", "fused PDF page records"),
				chromago.NewStringAttribute("created_by", "visiondoc"),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma collection '%s': %w", name, err)
	}

	for start := 0; start < len(records); start += chromaAddBatch {
		end := min(start+chromaAddBatch, len(records))
		ids := make([]chromago.DocumentID, 0, end-start)
		texts := make([]string, 0, end-start)
		embs := make([]embeddings.Embedding, 0, end-start)
		metas := make([]chromago.DocumentMetadata, 0, end-start)
		for i := start; i < end; i++ {
			r := records[i]
			ids = append(ids, chromago.DocumentID(r.ID))
			texts = append(texts, r.Content)
			embs = append(embs, embeddings.NewEmbeddingFromFloat32(vectors[i]))
			metas = append(metas, chromago.NewDocumentMetadata(
				chromago.NewStringAttribute(models.MetaSource, r.Source),
				chromago.NewIntAttribute(models.MetaPageNumber, int64(r.PageNumber)),
			))
		}
		err = collection.Add(ctx,
			chromago.WithIDs(ids...),
			chromago.WithTexts(texts...),
			chromago.WithEmbeddings(embs...),
			chromago.WithMetadatas(metas...),
		)
		if err != nil {
			_ = c.client.DeleteCollection(ctx, name)
			return nil, fmt.Errorf("failed to add records %d-%d to chromadb: %w", start, end, err)
		}
	}
	return &chromaIndex{name: name, client: c.client, collection: collection}, nil
}

// Open attaches to an existing collection.
func (c *Chroma) Open(ctx context.Context, name string) (Index, error) {
	collection, err := c.client.GetCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: chroma collection '%s': %v", ErrNotFound, name, err)
	}
	return &chromaIndex{name: name, client: c.client, collection: collection}, nil
}

// Close closes the HTTP client.
func (c *Chroma) Close() error {
	return c.client.Close()
}

type chromaIndex struct {
	name       string
	client     chromago.Client
	collection chromago.Collection
}

func (i *chromaIndex) Name() string { return i.name }

// Query runs a nearest-neighbour search with the precomputed query embedding.
func (i *chromaIndex) Query(ctx context.Context, vector []float32, k int) ([]models.RetrievalCandidate, error) {
	results, err := i.collection.Query(
		ctx,
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chromago.WithNResults(k),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chromadb: %w", err)
	}

	idGroups := results.GetIDGroups()
	documentGroups := results.GetDocumentsGroups()
	metadataGroups := results.GetMetadatasGroups()
	if len(documentGroups) == 0 {
		return nil, nil
	}

	out := make([]models.RetrievalCandidate, 0, len(documentGroups[0]))
	for rank, doc := range documentGroups[0] {
		var meta map[string]interface{}
		if len(metadataGroups) > 0 && rank < len(metadataGroups[0]) {
			meta = metadataMap(metadataGroups[0][rank])
		}
		rec := models.FusedRecord{
			Content:    doc.ContentString(),
			Source:     asString(meta[models.MetaSource]),
			PageNumber: asInt(meta[models.MetaPageNumber]),
		}
		if len(idGroups) > 0 && rank < len(idGroups[0]) {
			rec.ID = string(idGroups[0][rank])
		}
		out = append(out, models.RetrievalCandidate{Record: rec, RecallRank: rank})
	}
	return out, nil
}

// Page fetches the records of one page with a metadata filter.
func (i *chromaIndex) Page(ctx context.Context, source string, page int) ([]models.FusedRecord, error) {
	res, err := i.collection.Get(ctx,
		chromago.WithWhereGet(chromago.And(
			chromago.EqString(models.MetaSource, source),
			chromago.EqInt(models.MetaPageNumber, page),
		)),
		chromago.WithIncludeGet(chromago.IncludeDocuments, chromago.IncludeMetadatas),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get page %d of %s from chromadb: %w", page, source, err)
	}

	ids := res.GetIDs()
	docs := res.GetDocuments()
	out := make([]models.FusedRecord, 0, len(ids))
	for j, id := range ids {
		rec := models.FusedRecord{ID: string(id), Source: source, PageNumber: page}
		if j < len(docs) && docs[j] != nil {
			rec.Content = docs[j].ContentString()
		}
		out = append(out, rec)
	}
	return out, nil
}

func (i *chromaIndex) Count(ctx context.Context) (int, error) {
	count, err := i.collection.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count items in collection: %w", err)
	}
	return int(count), nil
}

// Drop deletes the collection.
func (i *chromaIndex) Drop(ctx context.Context) error {
	if err := i.client.DeleteCollection(ctx, i.name); err != nil {
		return fmt.Errorf("failed to delete chroma collection '%s': %w", i.name, err)
	}
	return nil
}
