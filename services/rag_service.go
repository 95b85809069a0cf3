package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github/itish2003/visiondoc/cache"
	"github/itish2003/visiondoc/embedding"
	"github/itish2003/visiondoc/models"
	"github/itish2003/visiondoc/rerank"
	"github/itish2003/visiondoc/vectorstore"
)

var (
	ErrNotReady      = errors.New("the document index is not ready, upload PDFs first")
	ErrNoDocuments   = errors.New("no documents could be processed")
	ErrEmptyQuestion = errors.New("question must not be empty")
)

// RAGService is what the HTTP layer talks to.
type RAGService interface {
	Ingest(ctx context.Context, files []models.UploadedFile) (*models.UploadResponse, error)
	IngestDirectory(ctx context.Context) (*models.UploadResponse, error)
	Ask(ctx context.Context, question string) (*models.QueryResult, error)
	Health(ctx context.Context) models.HealthResponse
	Restore(ctx context.Context) error
	Close() error
}

// RAGOptions carries the collaborators of the service.
type RAGOptions struct {
	Extractor *PageExtractor
	Fusion    *PageFusionEngine
	Indexer   *Indexer
	Store     vectorstore.Store
	Embedder  embedding.Embedder
	Scorer    rerank.Scorer
	Assembler *ResponseAssembler
	Cache     cache.AnswerCache
	UploadDir string
	StateFile string
	RecallK   int
	TopK      int
	Log       *logrus.Entry
}

// snapshot is one live index generation. Queries hold a read lease for their
// whole duration; retiring takes the write lock, so it waits for them.
type snapshot struct {
	mu     sync.RWMutex
	idx    vectorstore.Index
	closed bool
}

type ragServiceImpl struct {
	opts     RAGOptions
	hashes   *FileHashes
	live     atomic.Pointer[snapshot]
	ingestMu sync.Mutex
	log      *logrus.Entry
}

var _ RAGService = (*ragServiceImpl)(nil)

// NewRAGService wires the pipeline. A nil Cache disables answer caching.
func NewRAGService(opts RAGOptions) RAGService {
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}
	return &ragServiceImpl{opts: opts, hashes: NewFileHashes(), log: opts.Log}
}

// Ingest saves the uploads and rebuilds the index from this batch.
func (r *ragServiceImpl) Ingest(ctx context.Context, files []models.UploadedFile) (*models.UploadResponse, error) {
	if len(files) == 0 {
		return nil, ErrNoDocuments
	}
	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()

	paths, err := r.opts.Extractor.SaveUploads(files)
	if err != nil {
		return nil, err
	}
	snap := r.hashes.Snapshot(paths)
	resp, err := r.rebuild(ctx, paths)
	if err != nil {
		return nil, err
	}
	r.hashes.Merge(snap)
	return resp, nil
}

// IngestDirectory rebuilds from every PDF in the upload directory when any of
// them changed since it was last ingested. Hashes are only committed once the
// rebuild succeeds, so a failed run is retried on the next call.
func (r *ragServiceImpl) IngestDirectory(ctx context.Context) (*models.UploadResponse, error) {
	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()

	paths, err := ListPDFs(r.opts.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload dir: %w", err)
	}
	if !r.hashes.Changed(paths) {
		r.log.Debug("Upload directory unchanged, skipping rebuild")
		return nil, nil
	}
	snap := r.hashes.Snapshot(paths)
	if len(paths) == 0 {
		r.hashes.Replace(snap)
		r.log.Info("Upload directory is empty, keeping the current index")
		return nil, nil
	}
	r.log.WithField("files", len(paths)).Info("Upload directory changed, rebuilding index")
	resp, err := r.rebuild(ctx, paths)
	if err != nil {
		return nil, err
	}
	r.hashes.Replace(snap)
	return resp, nil
}

func (r *ragServiceImpl) rebuild(ctx context.Context, paths []string) (*models.UploadResponse, error) {
	start := time.Now()
	docs, skipped := r.opts.Extractor.ExtractAll(ctx, paths)
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w (skipped: %s)", ErrNoDocuments, strings.Join(skipped, ", "))
	}

	var pages []models.Page
	for _, d := range docs {
		pages = append(pages, d.Pages...)
	}
	records := r.opts.Fusion.FuseAll(ctx, pages)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no page produced any content", ErrNoDocuments)
	}

	idx, err := r.opts.Indexer.Build(ctx, records)
	if err != nil {
		return nil, err
	}
	r.swap(idx)

	count, err := idx.Count(ctx)
	if err != nil {
		count = len(records)
	}
	r.log.WithFields(logrus.Fields{
		"documents":  len(docs),
		"pages":      len(pages),
		"records":    count,
		"skipped":    len(skipped),
		"generation": idx.Name(),
		"elapsed":    time.Since(start).String(),
	}).Info("Ingestion finished")

	return &models.UploadResponse{
		Message:    "PDFs processed and index rebuilt",
		Documents:  len(docs),
		Pages:      len(pages),
		Records:    count,
		Generation: idx.Name(),
		Skipped:    skipped,
	}, nil
}

// swap publishes idx, persists its name and retires the previous generation.
func (r *ragServiceImpl) swap(idx vectorstore.Index) {
	old := r.live.Swap(&snapshot{idx: idx})
	if err := r.saveState(idx.Name()); err != nil {
		r.log.WithError(err).Warn("Could not persist index state")
	}
	if old == nil || old.idx.Name() == idx.Name() {
		return
	}
	old.mu.Lock()
	old.closed = true
	old.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := old.idx.Drop(ctx); err != nil {
		r.log.WithError(err).WithField("generation", old.idx.Name()).Warn("Could not drop retired generation")
	}
}

// acquire returns the live snapshot with a read lease held.
func (r *ragServiceImpl) acquire() (*snapshot, bool) {
	for {
		s := r.live.Load()
		if s == nil {
			return nil, false
		}
		s.mu.RLock()
		if !s.closed {
			return s, true
		}
		s.mu.RUnlock()
	}
}

// Ask answers a question against the live generation. Chunk hits are widened
// back to their whole page before the answer is generated.
func (r *ragServiceImpl) Ask(ctx context.Context, question string) (*models.QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	snap, ok := r.acquire()
	if !ok {
		return nil, ErrNotReady
	}
	defer snap.mu.RUnlock()

	generation := snap.idx.Name()
	log := r.log.WithField("generation", generation)
	if cached, hit, err := r.opts.Cache.Get(ctx, generation, question); err != nil {
		log.WithError(err).Warn("Answer cache lookup failed")
	} else if hit {
		log.Debug("Answer served from cache")
		return cached, nil
	}

	retriever := NewTwoStageRetriever(
		IndexRecall(snap.idx, r.opts.Embedder),
		r.opts.Scorer.Score,
		r.opts.RecallK, r.opts.TopK, log,
	)
	candidates, err := retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, err
	}
	candidates = ExpandToPages(ctx, snap.idx.Page, candidates, log)
	result, err := r.opts.Assembler.Assemble(ctx, question, candidates)
	if err != nil {
		return nil, err
	}

	if err := r.opts.Cache.Set(ctx, generation, question, result); err != nil {
		log.WithError(err).Warn("Could not cache answer")
	}
	return result, nil
}

// Health reports readiness and the live generation.
func (r *ragServiceImpl) Health(ctx context.Context) models.HealthResponse {
	h := models.HealthResponse{Status: "healthy", Service: "visiondoc", Version: "1.0.0"}
	snap, ok := r.acquire()
	if !ok {
		return h
	}
	defer snap.mu.RUnlock()
	h.Ready = true
	h.Generation = snap.idx.Name()
	if n, err := snap.idx.Count(ctx); err == nil {
		h.Records = n
	}
	return h
}

type indexState struct {
	Generation string    `json:"generation"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Restore re-attaches the generation recorded in the state file, if any.
func (r *ragServiceImpl) Restore(ctx context.Context) error {
	if paths, err := ListPDFs(r.opts.UploadDir); err == nil {
		r.hashes.Remember(paths)
	}

	raw, err := os.ReadFile(r.opts.StateFile)
	if errors.Is(err, os.ErrNotExist) {
		r.log.Info("No saved index state, waiting for uploads")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index state: %w", err)
	}
	var st indexState
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("corrupt index state file %s: %w", r.opts.StateFile, err)
	}
	if st.Generation == "" {
		return nil
	}

	idx, err := r.opts.Store.Open(ctx, st.Generation)
	if err != nil {
		return fmt.Errorf("failed to reopen generation %s: %w", st.Generation, err)
	}
	r.live.Store(&snapshot{idx: idx})
	r.log.WithField("generation", st.Generation).Info("Restored index generation")
	return nil
}

func (r *ragServiceImpl) saveState(generation string) error {
	if r.opts.StateFile == "" {
		return nil
	}
	raw, err := json.MarshalIndent(indexState{Generation: generation, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(r.opts.StateFile); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := r.opts.StateFile + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.opts.StateFile)
}

// Close releases the cache and the vector store.
func (r *ragServiceImpl) Close() error {
	var errs []error
	if err := r.opts.Cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.opts.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
