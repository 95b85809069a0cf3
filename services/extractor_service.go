package services

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github/itish2003/visiondoc/models"
)

// PageExtractor persists uploads and turns each PDF into pages with text,
// a full-page render and the embedded raster objects.
type PageExtractor struct {
	parser         PDFParser
	uploadDir      string
	imageDir       string
	dpi            int
	extractObjects bool
	log            *logrus.Entry
}

// NewPageExtractor creates an extractor that renders pages at dpi. With
// extractObjects set, embedded images are saved as well.
func NewPageExtractor(parser PDFParser, uploadDir, imageDir string, dpi int, extractObjects bool, log *logrus.Entry) *PageExtractor {
	return &PageExtractor{
		parser:         parser,
		uploadDir:      uploadDir,
		imageDir:       imageDir,
		dpi:            dpi,
		extractObjects: extractObjects,
		log:            log,
	}
}

// PageImageFilename is the single source of truth for image names:
// {stem}_p{page}_{kind}{index}.png
func PageImageFilename(source string, page int, kind models.ImageKind, index int) string {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_p%d_%s%d.png", stem, page, kind, index)
}

// PageRenderFilename names the full-page render of a page.
func PageRenderFilename(source string, page int) string {
	return PageImageFilename(source, page, models.ImageKindPage, 0)
}

// usableObject drops alpha masks and grayscale layers.
func usableObject(o RasterObject) bool {
	return o.ColorComponents >= 3 && o.Width > 0 && o.Height > 0
}

// SaveUploads writes every upload byte-for-byte into the upload directory and
// returns the saved paths in input order.
func (e *PageExtractor) SaveUploads(files []models.UploadedFile) ([]string, error) {
	if err := os.MkdirAll(e.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		name := filepath.Base(f.Filename)
		if name == "." || name == string(filepath.Separator) || name == "" {
			return nil, fmt.Errorf("invalid upload filename %q", f.Filename)
		}
		path := filepath.Join(e.uploadDir, name)
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to save upload %s: %w", name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ExtractAll extracts every path, skipping (and reporting) documents that
// are not PDFs or cannot be parsed.
func (e *PageExtractor) ExtractAll(ctx context.Context, paths []string) ([]*models.SourceDocument, []string) {
	var docs []*models.SourceDocument
	var skipped []string
	for _, path := range paths {
		if ctx.Err() != nil {
			skipped = append(skipped, filepath.Base(path))
			continue
		}
		if !isSupportedFile(path) {
			e.log.WithField("file", path).Warn("Skipping non-PDF upload")
			skipped = append(skipped, filepath.Base(path))
			continue
		}
		doc, err := e.Extract(ctx, path)
		if err != nil {
			e.log.WithError(err).WithField("file", path).Warn("Skipping document that could not be processed")
			skipped = append(skipped, filepath.Base(path))
			continue
		}
		docs = append(docs, doc)
	}
	return docs, skipped
}

// Extract processes one PDF. A parser panic is reported as an error.
func (e *PageExtractor) Extract(ctx context.Context, path string) (doc *models.SourceDocument, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("pdf parser panicked on %s: %v", path, r)
		}
	}()

	if err := os.MkdirAll(e.imageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image dir: %w", err)
	}

	pdfDoc, err := e.parser.Open(path)
	if err != nil {
		return nil, err
	}
	defer pdfDoc.Close()

	source := filepath.Base(path)
	doc = &models.SourceDocument{Filename: source, Path: path}
	for n := 1; n <= pdfDoc.NumPages(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc.Pages = append(doc.Pages, e.extractPage(pdfDoc, source, n))
	}
	e.log.WithFields(logrus.Fields{"file": source, "pages": len(doc.Pages)}).Info("Extracted document")
	return doc, nil
}

func (e *PageExtractor) extractPage(pdfDoc PDFDocument, source string, n int) models.Page {
	log := e.log.WithFields(logrus.Fields{"file": source, "page": n})
	page := models.Page{Source: source, Number: n}

	text, err := pdfDoc.PageText(n)
	if err != nil {
		log.WithError(err).Warn("No text extracted for page")
	}
	page.Text = strings.TrimSpace(text)

	if img, err := pdfDoc.RenderPage(n, e.dpi); err != nil {
		log.WithError(err).Warn("Page render failed")
	} else {
		name := PageRenderFilename(source, n)
		if err := savePNG(filepath.Join(e.imageDir, name), img); err != nil {
			log.WithError(err).Warn("Could not save page render")
		} else {
			page.RenderPath = filepath.Join(e.imageDir, name)
			b := img.Bounds()
			page.Images = append(page.Images, models.Image{
				Kind: models.ImageKindPage, Filename: name, Width: b.Dx(), Height: b.Dy(),
			})
		}
	}

	if !e.extractObjects {
		return page
	}
	objects, err := pdfDoc.PageImages(n)
	if err != nil {
		log.WithError(err).Warn("Embedded image extraction failed")
		return page
	}
	for idx, obj := range objects {
		if !usableObject(obj) {
			continue
		}
		img, err := obj.Decode()
		if err != nil {
			log.WithError(err).WithField("object", idx).Debug("Could not decode embedded image")
			continue
		}
		name := PageImageFilename(source, n, models.ImageKindObject, idx)
		if err := savePNG(filepath.Join(e.imageDir, name), img); err != nil {
			log.WithError(err).WithField("object", idx).Warn("Could not save embedded image")
			continue
		}
		page.Images = append(page.Images, models.Image{
			Kind: models.ImageKindObject, Index: idx, Filename: name, Width: obj.Width, Height: obj.Height,
		})
	}
	return page
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
