package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github/itish2003/visiondoc/logger"
	"github/itish2003/visiondoc/models"
	"github/itish2003/visiondoc/vectorstore"
)

// fakePage describes one page of a fake PDF.
type fakePage struct {
	text    string
	objects []RasterObject
}

// fakeParser serves in-memory documents keyed by base filename.
type fakeParser struct {
	docs   map[string][]fakePage
	broken map[string]bool
	panics map[string]bool
}

func (p *fakeParser) Open(path string) (PDFDocument, error) {
	name := filepath.Base(path)
	if p.panics[name] {
		panic("corrupt xref table")
	}
	if p.broken[name] {
		return nil, errors.New("malformed PDF: missing header")
	}
	pages, ok := p.docs[name]
	if !ok {
		return nil, fmt.Errorf("no such document %s", name)
	}
	return &fakeDocument{pages: pages}, nil
}

type fakeDocument struct {
	pages []fakePage
}

func (d *fakeDocument) NumPages() int { return len(d.pages) }

func (d *fakeDocument) PageText(n int) (string, error) { return d.pages[n-1].text, nil }

func (d *fakeDocument) RenderPage(n, dpi int) (image.Image, error) {
	return solidImage(8, 11, color.White), nil
}

func (d *fakeDocument) PageImages(n int) ([]RasterObject, error) { return d.pages[n-1].objects, nil }

func (d *fakeDocument) Close() error { return nil }

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func rgbObject(w, h int) RasterObject {
	return NewRasterObject(solidImage(w, h, color.RGBA{R: 200, A: 255}), 3)
}

func maskObject(w, h int) RasterObject {
	return NewRasterObject(image.NewGray(image.Rect(0, 0, w, h)), 1)
}

// fakeModel implements llm.Model with pluggable behaviour.
type fakeModel struct {
	generate    func(ctx context.Context, prompt string) (string, error)
	describe    func(ctx context.Context, instruction string) (string, error)
	describeHit atomic.Int32
}

func (m *fakeModel) Generate(ctx context.Context, prompt string) (string, error) {
	if m.generate == nil {
		return "", errors.New("generate not configured")
	}
	return m.generate(ctx, prompt)
}

func (m *fakeModel) DescribeImage(ctx context.Context, _ []byte, _ string, instruction string) (string, error) {
	m.describeHit.Add(1)
	if m.describe == nil {
		return "", errors.New("describe not configured")
	}
	return m.describe(ctx, instruction)
}

// echoEnricher returns the extracted text as its own summary.
func echoEnricher() *fakeModel {
	return &fakeModel{generate: func(_ context.Context, prompt string) (string, error) {
		_, text, _ := strings.Cut(prompt, "Extracted text:\n")
		return "Summary: " + text, nil
	}}
}

// bagEmbedder hashes words into a small dense vector.
type bagEmbedder struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (e *bagEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.fail.Load() {
		return nil, errors.New("embedding server unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 16)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(strings.Trim(w, ".,:;?!()")))
			v[h.Sum32()%16]++
		}
		v[15] += 0.01
		out[i] = v
	}
	return out, nil
}

// keywordScorer scores passages by how often they mention keyword.
type keywordScorer struct {
	keyword string
	calls   atomic.Int32
}

func (s *keywordScorer) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	s.calls.Add(1)
	out := make([]float64, len(passages))
	for i, p := range passages {
		out[i] = float64(strings.Count(strings.ToLower(p), s.keyword))
	}
	return out, nil
}

// timeoutErr is a net.Error reporting a timeout.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func testLog() *logrus.Entry { return logger.Discard() }

// allRecords lists every record of a memory generation.
func allRecords(t *testing.T, store vectorstore.Store, generation string) []models.FusedRecord {
	t.Helper()
	idx, err := store.Open(context.Background(), generation)
	if err != nil {
		t.Fatalf("open generation %s: %v", generation, err)
	}
	query := make([]float32, 16)
	query[15] = 1
	cands, err := idx.Query(context.Background(), query, 1000)
	if err != nil {
		t.Fatalf("query generation %s: %v", generation, err)
	}
	out := make([]models.FusedRecord, len(cands))
	for i, c := range cands {
		out[i] = c.Record
	}
	return out
}

// waitGroupTimeout waits for wg or fails after d.
func waitGroupTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for goroutines")
	}
}
