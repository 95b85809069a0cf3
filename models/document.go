package models

// ImageKind distinguishes a full-page render from an embedded raster object.
type ImageKind string

const (
	ImageKindPage   ImageKind = "page"
	ImageKindObject ImageKind = "img"
)

// Metadata keys stored with every indexed record.
const (
	MetaSource     = "source"
	MetaPageNumber = "page_number"
)

// SourceDocument is one uploaded PDF.
type SourceDocument struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Pages    []Page `json:"pages"`
}

// Page belongs to exactly one SourceDocument. Number is 1-based.
type Page struct {
	Source     string  `json:"source"`
	Number     int     `json:"page_number"`
	Text       string  `json:"text"`
	RenderPath string  `json:"render_path"` // empty when rendering failed
	Images     []Image `json:"images,omitempty"`
}

// Image is a raster saved under the static image directory.
type Image struct {
	Kind     ImageKind `json:"kind"`
	Index    int       `json:"index"`
	Filename string    `json:"filename"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
}

// FusedRecord is the unit written to the vector index.
type FusedRecord struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Source     string `json:"source"`
	PageNumber int    `json:"page_number"`
}

// RetrievalCandidate is a record plus the scores it collected during retrieval.
// RecallRank is the 0-based position in the recall set.
type RetrievalCandidate struct {
	Record      FusedRecord `json:"record"`
	RecallRank  int         `json:"recall_rank"`
	RecallScore float64     `json:"recall_score"`
	RerankScore float64     `json:"rerank_score"`
}

// QueryResult is the final answer. Sources are not deduplicated.
type QueryResult struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
	ImageURL *string  `json:"image_url"`
}
