package services

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github/itish2003/visiondoc/llm"
	"github/itish2003/visiondoc/models"
)

// visualIntentKeywords are matched case-insensitively as whole words. English
// and Spanish nouns also match their plural.
var visualIntentKeywords = []string{
	"show me", "look like", "looks like",
	"diagram", "image", "picture", "figure", "chart", "graph", "architecture",
	"muéstrame", "muestrame", "diagrama", "imagen", "figura", "gráfico", "grafico",
	"arquitectura", "esquema",
}

var (
	visualIntentPattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` +
		strings.Join(quoteAll(visualIntentKeywords), "|") +
		`)(?:s|es)?(?:$|[^\p{L}\p{N}_])`)
	// "figure out" asks for reasoning, not a figure.
	figureOutPattern = regexp.MustCompile(`(?i)\bfigur(?:e|es|ed|ing)\s+(?:it\s+|this\s+|that\s+)?out\b`)
)

func quoteAll(terms []string) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = regexp.QuoteMeta(t)
	}
	return out
}

// HasVisualIntent reports whether the query asks to see something.
func HasVisualIntent(query string) bool {
	q := figureOutPattern.ReplaceAllString(query, " ")
	return visualIntentPattern.MatchString(q)
}

// ImageURL builds the public URL of a saved image. The static root is mounted
// at /static and images live in imageSubdir below it.
func ImageURL(baseURL, imageSubdir, filename string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(baseURL, "/"))
	sb.WriteString("/static")
	for _, seg := range strings.Split(strings.Trim(imageSubdir, "/"), "/") {
		if seg == "" {
			continue
		}
		sb.WriteString("/" + url.PathEscape(seg))
	}
	sb.WriteString("/" + url.PathEscape(filename))
	return sb.String()
}

// ResponseAssembler answers from the re-ranked context and attaches the most
// relevant image when the query has visual intent.
type ResponseAssembler struct {
	model       llm.Generator
	parser      PDFParser
	uploadDir   string
	imageDir    string
	imageSubdir string
	baseURL     string
	log         *logrus.Entry
}

// NewResponseAssembler creates an assembler. imageDir is where images are read
// from on disk and imageSubdir is its path below the /static mount.
func NewResponseAssembler(model llm.Generator, parser PDFParser, uploadDir, imageDir, imageSubdir, baseURL string, log *logrus.Entry) *ResponseAssembler {
	return &ResponseAssembler{
		model:       model,
		parser:      parser,
		uploadDir:   uploadDir,
		imageDir:    imageDir,
		imageSubdir: imageSubdir,
		baseURL:     baseURL,
		log:         log,
	}
}

// Assemble generates the answer from the re-ranked context. Sources follow
// context order and are not deduplicated.
func (a *ResponseAssembler) Assemble(ctx context.Context, question string, contextRecords []models.RetrievalCandidate) (*models.QueryResult, error) {
	answer, err := a.model.Generate(ctx, GetAnswerPrompt(question, contextRecords))
	if err != nil {
		return nil, fmt.Errorf("could not generate answer: %w", err)
	}

	sources := make([]string, 0, len(contextRecords))
	for _, c := range contextRecords {
		sources = append(sources, c.Record.Source)
	}
	result := &models.QueryResult{Response: answer, Sources: sources}

	if !HasVisualIntent(question) || len(contextRecords) == 0 {
		return result, nil
	}
	top := contextRecords[0].Record
	if top.Source == "" || top.PageNumber < 1 {
		return result, nil
	}
	if filename, ok := a.ResolveImage(top.Source, top.PageNumber); ok {
		imageURL := ImageURL(a.baseURL, a.imageSubdir, filename)
		result.ImageURL = &imageURL
	}
	return result, nil
}

// ResolveImage picks the largest embedded image of the page when one was
// saved, otherwise the full-page render. ok is false when neither exists.
func (a *ResponseAssembler) ResolveImage(source string, page int) (filename string, ok bool) {
	log := a.log.WithFields(logrus.Fields{"file": source, "page": page})
	if name, found := a.largestObject(source, page); found {
		if a.exists(name) {
			return name, true
		}
		log.WithField("image", name).Debug("Largest embedded image was not saved, using page render")
	}
	render := PageRenderFilename(source, page)
	if a.exists(render) {
		return render, true
	}
	log.Warn("No saved image for page")
	return "", false
}

func (a *ResponseAssembler) largestObject(source string, page int) (name string, found bool) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Warnf("pdf parser panicked while listing images of %s: %v", source, r)
			name, found = "", false
		}
	}()

	doc, err := a.parser.Open(filepath.Join(a.uploadDir, filepath.Base(source)))
	if err != nil {
		a.log.WithError(err).WithField("file", source).Debug("Could not reopen source document")
		return "", false
	}
	defer doc.Close()
	if page > doc.NumPages() {
		return "", false
	}
	objects, err := doc.PageImages(page)
	if err != nil {
		return "", false
	}

	best, bestPixels := -1, int64(0)
	for idx, obj := range objects {
		if !usableObject(obj) {
			continue
		}
		if px := int64(obj.Width) * int64(obj.Height); px > bestPixels {
			best, bestPixels = idx, px
		}
	}
	if best < 0 {
		return "", false
	}
	return PageImageFilename(source, page, models.ImageKindObject, best), true
}

func (a *ResponseAssembler) exists(filename string) bool {
	_, err := os.Stat(filepath.Join(a.imageDir, filename))
	return err == nil
}
