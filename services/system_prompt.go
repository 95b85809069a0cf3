package services

import (
	"fmt"
	"strings"

	"github/itish2003/visiondoc/models"
)

// NoDescriptionSentinel is what the vision enricher returns when it gives up.
const NoDescriptionSentinel = "No description could be generated for this image."

const (
	textSummarySection = "Textual summary"
	visualSection      = "Visual description"
)

// GetTextEnrichPrompt asks the model to clean and compress one page of raw text.
func GetTextEnrichPrompt(text, source string, page int) string {
	return fmt.Sprintf(`You are cleaning text that was extracted from page %d of the document "%s".
The extraction may contain OCR mistakes, broken hyphenation, repeated headers and stray symbols.

Rewrite it as one dense, well-formed paragraph:
- Correct obvious transcription errors.
- Keep every fact, number, name and technical term.
- Do not add any information that is not present in the text.
- Answer with the paragraph only.

Extracted text:
%s`, page, source, text)
}

// GetVisionPrompt asks the model for an exhaustive description of a page image.
func GetVisionPrompt(source string, page int) string {
	return fmt.Sprintf(`This image is page %d of the document "%s".
Describe it so that someone who cannot see it can answer questions about it.
1. Transcribe all visible text, including labels inside diagrams, tables and charts.
2. If there is a diagram, name every component and explain how the components are connected and in which direction data or control flows.
3. If there is a chart, state the axes, the series and the values or trends shown.
4. Mention any photo or illustration and what it depicts.
Be exhaustive and factual. Do not guess at content you cannot read.`, page, source)
}

// GetAnswerPrompt stuffs the re-ranked context into one prompt.
func GetAnswerPrompt(question string, context []models.RetrievalCandidate) string {
	var sb strings.Builder
	for i, c := range context {
		fmt.Fprintf(&sb, "[%d] Source: %s, page %d\n%s\n\n", i+1, c.Record.Source, c.Record.PageNumber, c.Record.Content)
	}
	return fmt.Sprintf(`You are an assistant that answers questions about the user's uploaded documents.

Rules:
- Answer only from the context below. If the context does not contain the answer, say that you do not know.
- Respond in the same language as the question.
- Always cite the source document and page number you used, for example (report.pdf, page 3).
- Some context entries describe images and diagrams. Use them like any other source.

Context:
%s
Question: %s

Answer:`, sb.String(), question)
}

// fuseContent builds the labelled record body. Empty sections are left out.
func fuseContent(summary, visual string) string {
	var parts []string
	if s := strings.TrimSpace(summary); s != "" {
		parts = append(parts, textSummarySection+":\n"+s)
	}
	if v := strings.TrimSpace(visual); v != "" {
		parts = append(parts, visualSection+":\n"+v)
	}
	return strings.Join(parts, "\n\n")
}
