package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github/itish2003/visiondoc/models"
)

// Memory keeps generations in process. Nothing survives a restart.
type Memory struct {
	mu          sync.RWMutex
	generations map[string]*memoryIndex
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{generations: make(map[string]*memoryIndex)}
}

// Build copies records and vectors into a new generation.
func (m *Memory) Build(_ context.Context, name string, records []models.FusedRecord, vectors [][]float32) (Index, error) {
	if _, err := checkBuildInput(records, vectors); err != nil {
		return nil, err
	}
	idx := &memoryIndex{
		name:    name,
		store:   m,
		records: append([]models.FusedRecord(nil), records...),
		vectors: make([][]float32, len(vectors)),
	}
	for i, v := range vectors {
		idx.vectors[i] = append([]float32(nil), v...)
	}

	m.mu.Lock()
	m.generations[name] = idx
	m.mu.Unlock()
	return idx, nil
}

// Open returns a generation built earlier by this process.
func (m *Memory) Open(_ context.Context, name string) (Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.generations[name]
	if !ok {
		return nil, ErrNotFound
	}
	return idx, nil
}

// Close is a no-op. Generations stay readable until dropped.
func (m *Memory) Close() error { return nil }

type memoryIndex struct {
	name    string
	store   *Memory
	records []models.FusedRecord
	vectors [][]float32
}

func (i *memoryIndex) Name() string { return i.name }

// Query ranks every record by cosine similarity.
func (i *memoryIndex) Query(_ context.Context, vector []float32, k int) ([]models.RetrievalCandidate, error) {
	scores := make([]float64, len(i.vectors))
	for j, v := range i.vectors {
		scores[j] = cosine(v, vector)
	}
	order := make([]int, len(scores))
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	if k > len(order) {
		k = len(order)
	}
	out := make([]models.RetrievalCandidate, 0, k)
	for rank := 0; rank < k; rank++ {
		j := order[rank]
		out = append(out, models.RetrievalCandidate{
			Record:      i.records[j],
			RecallRank:  rank,
			RecallScore: scores[j],
		})
	}
	return out, nil
}

// Page scans the generation for records of one page.
func (i *memoryIndex) Page(_ context.Context, source string, page int) ([]models.FusedRecord, error) {
	var out []models.FusedRecord
	for _, r := range i.records {
		if r.Source == source && r.PageNumber == page {
			out = append(out, r)
		}
	}
	return out, nil
}

func (i *memoryIndex) Count(context.Context) (int, error) { return len(i.records), nil }

// Drop forgets the generation unless it was rebuilt under the same name.
func (i *memoryIndex) Drop(context.Context) error {
	i.store.mu.Lock()
	defer i.store.mu.Unlock()
	if i.store.generations[i.name] == i {
		delete(i.store.generations, i.name)
	}
	return nil
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for j := 0; j < n; j++ {
		x, y := float64(a[j]), float64(b[j])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
