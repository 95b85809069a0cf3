package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github/itish2003/visiondoc/config"
	"github/itish2003/visiondoc/models"
)

// ErrNotFound is returned by Open when the named generation does not exist.
var ErrNotFound = errors.New("index generation not found")

// Store creates and re-opens index generations. Each generation is an
// independent collection that is written once by Build and only read after.
type Store interface {
	Build(ctx context.Context, name string, records []models.FusedRecord, vectors [][]float32) (Index, error)
	Open(ctx context.Context, name string) (Index, error)
	Close() error
}

// Index is one immutable generation.
type Index interface {
	Name() string
	// Query returns at most k candidates in nearest-first order with RecallRank set.
	Query(ctx context.Context, vector []float32, k int) ([]models.RetrievalCandidate, error)
	// Page returns every record stored for one source page, in no particular order.
	Page(ctx context.Context, source string, page int) ([]models.FusedRecord, error)
	Count(ctx context.Context) (int, error)
	Drop(ctx context.Context) error
}

// New connects to the configured backend.
func New(ctx context.Context, cfg config.VectorStoreConfig) (Store, error) {
	switch cfg.Provider {
	case "chroma":
		return NewChroma(cfg.Chroma.URL)
	case "milvus":
		return NewMilvus(ctx, cfg.Milvus)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", cfg.Provider)
	}
}

func checkBuildInput(records []models.FusedRecord, vectors [][]float32) (int, error) {
	if len(records) != len(vectors) {
		return 0, fmt.Errorf("mismatch between number of records (%d) and vectors (%d)", len(records), len(vectors))
	}
	if len(vectors) == 0 {
		return 0, errors.New("cannot build an empty index generation")
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim || dim == 0 {
			return 0, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
	}
	return dim, nil
}

// metadataMap converts backend metadata into a plain map via JSON.
func metadataMap(meta any) map[string]interface{} {
	out := make(map[string]interface{})
	if meta == nil {
		return out
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
