package convert

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"infra-rag-platform/models"
)

// lowQualityScore flags pages whose extracted text is likely garbled.
const lowQualityScore = 0.3

// PDFConverter extracts the plain text of each page.
type PDFConverter struct{}

func (PDFConverter) Convert(ctx context.Context, name string, data []byte) (*models.ConvertedDocument, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	pages := reader.NumPage()
	extracted := 0
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			slog.Warn("pdf page skipped", "file", name, "page", i, "error", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if q := textQuality(text); q < lowQualityScore {
			slog.Warn("pdf page text looks garbled", "file", name, "page", i, "quality", q)
		}

		b.WriteString(pageMarker(i))
		b.WriteString("\n")
		b.WriteString(text)
		b.WriteString("\n\n")
		extracted++
	}

	if extracted == 0 {
		return nil, fmt.Errorf("%w: no text extracted from %d pages", models.ErrInvalidInput, pages)
	}
	return &models.ConvertedDocument{Markdown: b.String(), PageCount: pages}, nil
}

// textQuality scores extracted text between 0 and 1 by its share of printable
// characters, penalizing replacement characters.
func textQuality(text string) float64 {
	var total, printable, alnum, corrupted int
	for _, r := range text {
		total++
		switch {
		case r == '\uFFFD':
			corrupted++
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			alnum++
			printable++
		case r == ' ' || r == '\n' || r == '\t' || (r >= 32 && r <= 126):
			printable++
		case r > 127:
			printable++
		}
	}
	if total == 0 {
		return 0
	}

	score := float64(printable)/float64(total)*0.6 + min(float64(alnum)/float64(total), 0.4)
	score -= float64(corrupted) / float64(total) * 2
	return max(0, min(score, 1))
}
