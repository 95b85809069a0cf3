package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/itish2003/visiondoc/models"
)

func newTestExtractor(t *testing.T, parser PDFParser) (*PageExtractor, string, string) {
	t.Helper()
	root := t.TempDir()
	uploadDir := filepath.Join(root, "uploads")
	imageDir := filepath.Join(root, "static", "images")
	return NewPageExtractor(parser, uploadDir, imageDir, 200, true, testLog()), uploadDir, imageDir
}

func TestPageImageFilename(t *testing.T) {
	tests := []struct {
		source string
		page   int
		kind   models.ImageKind
		index  int
		want   string
	}{
		{"report.pdf", 1, models.ImageKindPage, 0, "report_p1_page0.png"},
		{"report.pdf", 12, models.ImageKindObject, 3, "report_p12_img3.png"},
		{"uploads/annual.report.PDF", 2, models.ImageKindObject, 0, "annual.report_p2_img0.png"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, PageImageFilename(tt.source, tt.page, tt.kind, tt.index))
		})
	}
}

func TestExtract_RenderFilenameRoundTrip(t *testing.T) {
	parser := &fakeParser{docs: map[string][]fakePage{
		"manual.pdf": {{text: "intro"}, {text: "setup"}, {text: ""}},
	}}
	ex, uploadDir, imageDir := newTestExtractor(t, parser)
	paths, err := ex.SaveUploads([]models.UploadedFile{{Filename: "manual.pdf", Data: []byte("%PDF-1.7")}})
	require.NoError(t, err)

	doc, err := ex.Extract(context.Background(), paths[0])
	require.NoError(t, err)
	require.Len(t, doc.Pages, 3)
	assert.Equal(t, filepath.Join(uploadDir, "manual.pdf"), doc.Path)

	for _, page := range doc.Pages {
		// The assembler derives the render name from (source, page) alone.
		derived := PageRenderFilename(page.Source, page.Number)
		assert.Equal(t, filepath.Join(imageDir, derived), page.RenderPath)
		assert.FileExists(t, page.RenderPath)
	}
	assert.Equal(t, "", doc.Pages[2].Text)
}

func TestExtract_EmbeddedObjectsSkipMasks(t *testing.T) {
	parser := &fakeParser{docs: map[string][]fakePage{
		"deck.pdf": {{text: "x", objects: []RasterObject{maskObject(50, 50), rgbObject(20, 10), {}}}},
	}}
	ex, _, imageDir := newTestExtractor(t, parser)
	paths, err := ex.SaveUploads([]models.UploadedFile{{Filename: "deck.pdf", Data: []byte("%PDF")}})
	require.NoError(t, err)

	doc, err := ex.Extract(context.Background(), paths[0])
	require.NoError(t, err)

	page := doc.Pages[0]
	require.Len(t, page.Images, 2)
	assert.Equal(t, models.ImageKindPage, page.Images[0].Kind)
	assert.Equal(t, models.ImageKindObject, page.Images[1].Kind)
	assert.Equal(t, 1, page.Images[1].Index)
	assert.Equal(t, "deck_p1_img1.png", page.Images[1].Filename)
	assert.FileExists(t, filepath.Join(imageDir, "deck_p1_img1.png"))
	assert.NoFileExists(t, filepath.Join(imageDir, "deck_p1_img0.png"))
}

func TestSaveUploads_BinaryExact(t *testing.T) {
	ex, uploadDir, _ := newTestExtractor(t, &fakeParser{})
	payload := []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff, 0x0a, 0x0d}

	paths, err := ex.SaveUploads([]models.UploadedFile{{Filename: "../../escape.pdf", Data: payload}})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Join(uploadDir, "escape.pdf"), paths[0])

	got, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestExtractAll_SkipsBadDocuments(t *testing.T) {
	parser := &fakeParser{
		docs:   map[string][]fakePage{"a.pdf": {{text: "one"}}, "c.pdf": {{text: "three"}}},
		broken: map[string]bool{"b.pdf": true},
		panics: map[string]bool{"d.pdf": true},
	}
	ex, _, _ := newTestExtractor(t, parser)
	paths, err := ex.SaveUploads([]models.UploadedFile{
		{Filename: "a.pdf", Data: []byte("a")},
		{Filename: "b.pdf", Data: []byte("b")},
		{Filename: "c.pdf", Data: []byte("c")},
		{Filename: "d.pdf", Data: []byte("d")},
		{Filename: "notes.txt", Data: []byte("t")},
	})
	require.NoError(t, err)

	docs, skipped := ex.ExtractAll(context.Background(), paths)
	require.Len(t, docs, 2)
	assert.Equal(t, "a.pdf", docs[0].Filename)
	assert.Equal(t, "c.pdf", docs[1].Filename)
	assert.ElementsMatch(t, []string{"b.pdf", "d.pdf", "notes.txt"}, skipped)
}
