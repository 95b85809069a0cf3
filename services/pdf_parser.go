package services

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
	"github.com/unidoc/unipdf/v3/render"

	"github/itish2003/visiondoc/logger"
)

// PDFParser opens PDF files for page-level access.
type PDFParser interface {
	Open(path string) (PDFDocument, error)
}

// PDFDocument gives 1-based page access to one open PDF.
type PDFDocument interface {
	NumPages() int
	PageText(page int) (string, error)
	RenderPage(page, dpi int) (image.Image, error)
	// PageImages lists every raster object on the page in content-stream order.
	PageImages(page int) ([]RasterObject, error)
	Close() error
}

// RasterObject is an embedded image as found in the page content stream.
type RasterObject struct {
	Width           int
	Height          int
	ColorComponents int
	decode          func() (image.Image, error)
}

// Decode converts the object into a Go image.
func (r RasterObject) Decode() (image.Image, error) {
	if r.decode == nil {
		return nil, fmt.Errorf("raster object has no decoder")
	}
	return r.decode()
}

// NewRasterObject builds a RasterObject around an already decoded image.
func NewRasterObject(img image.Image, colorComponents int) RasterObject {
	b := img.Bounds()
	return RasterObject{
		Width:           b.Dx(),
		Height:          b.Dy(),
		ColorComponents: colorComponents,
		decode:          func() (image.Image, error) { return img, nil },
	}
}

// SetPDFLicense registers the UniPDF metered key. Without it parsing fails.
func SetPDFLicense(key string) {
	log := logger.For("pdf")
	if key == "" {
		log.Warn("UNIDOC_LICENSE_KEY is not set. PDF processing will fail.")
		return
	}
	if err := license.SetMeteredKey(key); err != nil {
		log.WithError(err).Error("Failed to set Unidoc license key. PDF processing will fail.")
	}
}

// UniPDFParser reads PDFs with UniPDF and falls back to ledongthuc/pdf for
// page text UniPDF cannot extract.
type UniPDFParser struct{}

var _ PDFParser = UniPDFParser{}

// Open reads the whole file and prepares both the unipdf and the text readers.
func (UniPDFParser) Open(path string) (PDFDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	reader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}
	numPages, err := reader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("failed to read page count: %w", err)
	}
	return &uniPDFDocument{reader: reader, numPages: numPages, data: data}, nil
}

type uniPDFDocument struct {
	reader   *model.PdfReader
	numPages int
	data     []byte
	fallback *pdf.Reader
}

func (d *uniPDFDocument) NumPages() int { return d.numPages }

func (d *uniPDFDocument) page(n int) (*model.PdfPage, error) {
	if n < 1 || n > d.numPages {
		return nil, fmt.Errorf("page %d out of range 1..%d", n, d.numPages)
	}
	return d.reader.GetPage(n)
}

// PageText returns the plain text of 1-based page n.
func (d *uniPDFDocument) PageText(n int) (string, error) {
	page, err := d.page(n)
	if err != nil {
		return "", err
	}
	ex, err := extractor.New(page)
	if err == nil {
		text, err := ex.ExtractText()
		if err == nil {
			return text, nil
		}
	}
	return d.fallbackText(n)
}

func (d *uniPDFDocument) fallbackText(n int) (string, error) {
	if d.fallback == nil {
		r, err := pdf.NewReader(bytes.NewReader(d.data), int64(len(d.data)))
		if err != nil {
			return "", fmt.Errorf("fallback reader: %w", err)
		}
		d.fallback = r
	}
	if n > d.fallback.NumPage() {
		return "", fmt.Errorf("fallback reader has no page %d", n)
	}
	p := d.fallback.Page(n)
	if p.V.IsNull() {
		return "", nil
	}
	return joinTextRuns(p.Content().Text), nil
}

// joinTextRuns orders positioned glyph runs top-down, left-right and breaks
// lines when the baseline moves.
func joinTextRuns(runs []pdf.Text) string {
	sorted := append([]pdf.Text(nil), runs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if math.Abs(sorted[i].Y-sorted[j].Y) > 1 {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})
	var sb strings.Builder
	for i, r := range sorted {
		if i > 0 && math.Abs(r.Y-sorted[i-1].Y) > 1 {
			sb.WriteByte('\n')
		}
		sb.WriteString(r.S)
	}
	return sb.String()
}

// RenderPage rasterizes page n at dpi.
func (d *uniPDFDocument) RenderPage(n, dpi int) (image.Image, error) {
	page, err := d.page(n)
	if err != nil {
		return nil, err
	}
	box, err := page.GetMediaBox()
	if err != nil {
		return nil, fmt.Errorf("page %d has no media box: %w", n, err)
	}
	device := render.NewImageDevice()
	device.OutputWidth = int(math.Round(box.Width() / 72 * float64(dpi)))
	img, err := device.Render(page)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", n, err)
	}
	return img, nil
}

// PageImages returns the raster XObjects of page n. An object without image
// data keeps an empty slot so indices match the page object order.
func (d *uniPDFDocument) PageImages(n int) ([]RasterObject, error) {
	page, err := d.page(n)
	if err != nil {
		return nil, err
	}
	ex, err := extractor.New(page)
	if err != nil {
		return nil, err
	}
	pageImages, err := ex.ExtractPageImages(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to extract images from page %d: %w", n, err)
	}
	if pageImages == nil {
		return nil, nil
	}
	out := make([]RasterObject, 0, len(pageImages.Images))
	for _, mark := range pageImages.Images {
		img := mark.Image
		if img == nil {
			// keep the slot so positions stay stable
			out = append(out, RasterObject{})
			continue
		}
		out = append(out, RasterObject{
			Width:           int(img.Width),
			Height:          int(img.Height),
			ColorComponents: img.ColorComponents,
			decode:          img.ToGoImage,
		})
	}
	return out, nil
}

func (d *uniPDFDocument) Close() error {
	d.data = nil
	d.fallback = nil
	return nil
}
