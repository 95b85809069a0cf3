package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github/itish2003/visiondoc/models"
)

// PageFusionEngine enriches pages and fuses the results into one record per page.
type PageFusionEngine struct {
	text    *TextEnricher
	vision  *VisionEnricher
	workers int
	log     *logrus.Entry
}

// NewPageFusionEngine creates an engine that fuses at most workers pages at once.
func NewPageFusionEngine(text *TextEnricher, vision *VisionEnricher, workers int, log *logrus.Entry) *PageFusionEngine {
	if workers < 1 {
		workers = 1
	}
	return &PageFusionEngine{text: text, vision: vision, workers: workers, log: log}
}

// RecordID is the stable identity of a page's record.
func RecordID(source string, page int) string {
	return fmt.Sprintf("%s#p%d", source, page)
}

// FusePage runs both enrichers concurrently and joins them. A panic in
// either enricher is re-raised on the calling goroutine.
func (f *PageFusionEngine) FusePage(ctx context.Context, page models.Page) models.FusedRecord {
	var (
		summary, visual string
		wg              sync.WaitGroup
		mu              sync.Mutex
		recovered       any
	)
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					recovered = r
					mu.Unlock()
				}
			}()
			fn()
		}()
	}

	run(func() { summary = f.text.Enrich(ctx, page.Text, page.Source, page.Number) })
	if page.RenderPath != "" {
		run(func() { visual = f.vision.Describe(ctx, page.RenderPath, page.Source, page.Number) })
	}
	wg.Wait()
	if recovered != nil {
		panic(recovered)
	}

	return models.FusedRecord{
		ID:         RecordID(page.Source, page.Number),
		Content:    fuseContent(summary, visual),
		Source:     page.Source,
		PageNumber: page.Number,
	}
}

// FuseAll fuses pages on a bounded pool. Result order is arbitrary. A page
// whose task panics or produces no content is logged and skipped.
func (f *PageFusionEngine) FuseAll(ctx context.Context, pages []models.Page) []models.FusedRecord {
	var (
		mu      sync.Mutex
		records = make([]models.FusedRecord, 0, len(pages))
		g       errgroup.Group
	)
	g.SetLimit(f.workers)

	for _, page := range pages {
		g.Go(func() error {
			log := f.log.WithFields(logrus.Fields{"file": page.Source, "page": page.Number})
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Page fusion panicked, skipping page: %v", r)
				}
			}()
			if ctx.Err() != nil {
				return nil
			}
			rec := f.FusePage(ctx, page)
			if rec.Content == "" {
				log.Warn("Page produced no content, skipping")
				return nil
			}
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	f.log.WithFields(logrus.Fields{"pages": len(pages), "records": len(records)}).Info("Page fusion finished")
	return records
}
