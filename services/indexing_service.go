package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/textsplitter"

	"github/itish2003/visiondoc/embedding"
	"github/itish2003/visiondoc/models"
	"github/itish2003/visiondoc/vectorstore"
)

// Indexer embeds fused records and writes them as a new index generation.
type Indexer struct {
	store     vectorstore.Store
	embedder  embedding.Embedder
	splitter  textsplitter.TextSplitter
	chunkSize int
	prefix    string
	log       *logrus.Entry
}

// NewIndexer creates an indexer. chunkSize <= 0 disables splitting.
func NewIndexer(store vectorstore.Store, embedder embedding.Embedder, chunkSize, chunkOverlap int, prefix string, log *logrus.Entry) *Indexer {
	ix := &Indexer{store: store, embedder: embedder, chunkSize: chunkSize, prefix: prefix, log: log}
	if chunkSize > 0 {
		ix.splitter = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		)
	}
	return ix
}

// NewGenerationName returns a fresh collection name safe for every backend.
func NewGenerationName(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Build writes records (in any order) into a brand-new generation.
func (ix *Indexer) Build(ctx context.Context, records []models.FusedRecord) (vectorstore.Index, error) {
	if len(records) == 0 {
		return nil, ErrNoDocuments
	}
	sorted := append([]models.FusedRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Source != sorted[j].Source {
			return sorted[i].Source < sorted[j].Source
		}
		return sorted[i].PageNumber < sorted[j].PageNumber
	})

	units, err := ix.split(sorted)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Content
	}

	start := time.Now()
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("could not embed records: %w", err)
	}
	if len(vectors) != len(units) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d records", len(vectors), len(units))
	}

	name := NewGenerationName(ix.prefix)
	idx, err := ix.store.Build(ctx, name, units, vectors)
	if err != nil {
		return nil, fmt.Errorf("failed to write index generation %s: %w", name, err)
	}
	ix.log.WithFields(logrus.Fields{
		"generation": name,
		"pages":      len(records),
		"records":    len(units),
		"elapsed":    time.Since(start).String(),
	}).Info("Index generation built")
	return idx, nil
}

// split breaks oversized records into chunks that keep the page metadata.
func (ix *Indexer) split(records []models.FusedRecord) ([]models.FusedRecord, error) {
	if ix.splitter == nil {
		return records, nil
	}
	out := make([]models.FusedRecord, 0, len(records))
	for _, r := range records {
		if utf8.RuneCountInString(r.Content) <= ix.chunkSize {
			out = append(out, r)
			continue
		}
		chunks, err := ix.splitter.SplitText(r.Content)
		if err != nil {
			return nil, fmt.Errorf("could not split record %s: %w", r.ID, err)
		}
		for n, chunk := range chunks {
			out = append(out, models.FusedRecord{
				ID:         fmt.Sprintf("%s#c%d", r.ID, n),
				Content:    chunk,
				Source:     r.Source,
				PageNumber: r.PageNumber,
			})
		}
	}
	return out, nil
}

// FileHashes remembers the content hash of every PDF that has been handed to
// ingestion, so the directory watcher can ignore files it already knows.
type FileHashes struct {
	mu     sync.Mutex
	hashes map[string]string
}

// NewFileHashes returns an empty set.
func NewFileHashes() *FileHashes {
	return &FileHashes{hashes: make(map[string]string)}
}

// Remember records the current hash of each path.
func (h *FileHashes) Remember(paths []string) {
	h.Merge(h.Snapshot(paths))
}

// Snapshot hashes paths without remembering them. Unreadable files are left out.
func (h *FileHashes) Snapshot(paths []string) map[string]string {
	snap := make(map[string]string, len(paths))
	for _, p := range paths {
		hash, err := calculateFileHash(p)
		if err != nil {
			continue
		}
		snap[filepath.Clean(p)] = hash
	}
	return snap
}

// Merge remembers every entry of snap.
func (h *FileHashes) Merge(snap map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p, hash := range snap {
		h.hashes[p] = hash
	}
}

// Replace forgets everything and remembers exactly snap.
func (h *FileHashes) Replace(snap map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hashes = make(map[string]string, len(snap))
	for p, hash := range snap {
		h.hashes[p] = hash
	}
}

// Changed reports whether any of paths is new or differs from what was remembered,
// or whether a remembered path no longer exists.
func (h *FileHashes) Changed(paths []string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		p = filepath.Clean(p)
		present[p] = true
		hash, err := calculateFileHash(p)
		if err != nil || h.hashes[p] != hash {
			return true
		}
	}
	for p := range h.hashes {
		if !present[p] {
			return true
		}
	}
	return false
}

// ListPDFs returns the PDFs directly inside dir in name order.
func ListPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isSupportedFile(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

// DirectoryWatcher triggers a debounced rebuild when PDFs in a directory change.
type DirectoryWatcher struct {
	dir     string
	delay   time.Duration
	rebuild func(ctx context.Context)
	log     *logrus.Entry
}

// NewDirectoryWatcher creates a watcher that calls rebuild once writes to dir
// have been quiet for delay.
func NewDirectoryWatcher(dir string, delay time.Duration, rebuild func(ctx context.Context), log *logrus.Entry) *DirectoryWatcher {
	return &DirectoryWatcher{dir: dir, delay: delay, rebuild: rebuild, log: log}
}

// Run blocks until ctx is cancelled.
func (w *DirectoryWatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create watched dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to add path to watcher: %w", err)
	}
	w.log.WithField("dir", w.dir).Info("Watching upload directory")

	timer := time.NewTimer(w.delay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isSupportedFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.log.WithField("event", event.String()).Debug("Watcher event")
				timer.Reset(w.delay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("Watcher error")
		case <-timer.C:
			w.rebuild(ctx)
		case <-ctx.Done():
			w.log.Info("Context cancelled, shutting down watcher")
			return nil
		}
	}
}

func isSupportedFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

func calculateFileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
