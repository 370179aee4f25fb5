// Package convert renders uploaded files as page-annotated markdown for the splitter.
package convert

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"infra-rag-platform/models"
)

// PageMarker announces the page of the content that follows it.
const PageMarker = "<!-- page: %d -->"

var ErrUnsupportedFormat = errors.New("unsupported document format")

// Converter turns file bytes into markdown.
type Converter interface {
	Convert(ctx context.Context, name string, data []byte) (*models.ConvertedDocument, error)
}

// Registry picks a converter by file extension.
type Registry struct {
	byExt map[string]Converter
}

// NewRegistry returns a registry with markdown, text, PDF, XLSX and HTML converters.
func NewRegistry() *Registry {
	r := &Registry{byExt: map[string]Converter{}}
	md := MarkdownConverter{}
	r.Register(md, ".md", ".markdown", ".txt")
	r.Register(PDFConverter{}, ".pdf")
	r.Register(XLSXConverter{}, ".xlsx")
	r.Register(HTMLConverter{}, ".html", ".htm")
	return r
}

func (r *Registry) Register(c Converter, exts ...string) {
	for _, ext := range exts {
		r.byExt[strings.ToLower(ext)] = c
	}
}

// Supports reports whether name has a registered extension.
func (r *Registry) Supports(name string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Extensions lists the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Convert(ctx context.Context, name string, data []byte) (*models.ConvertedDocument, error) {
	ext := strings.ToLower(filepath.Ext(name))
	c, ok := r.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	doc, err := c.Convert(ctx, name, data)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", name, err)
	}
	doc.SourceName = filepath.Base(name)
	if doc.PageCount == 0 {
		doc.PageCount = 1
	}
	doc.ProcessedAt = time.Now().UTC()
	return doc, nil
}

// MarkdownConverter passes markdown and plain text through unchanged.
type MarkdownConverter struct{}

func (MarkdownConverter) Convert(_ context.Context, _ string, data []byte) (*models.ConvertedDocument, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty document", models.ErrInvalidInput)
	}
	return &models.ConvertedDocument{Markdown: text, PageCount: 1}, nil
}

func pageMarker(page int) string {
	return fmt.Sprintf(PageMarker, page)
}

// tableCell flattens whitespace and escapes pipes so a value fits one markdown cell.
func tableCell(s string) string {
	return strings.ReplaceAll(strings.Join(strings.Fields(s), " "), "|", `\|`)
}

// markdownTable renders rows with the first row as header. Short rows are padded.
func markdownTable(rows [][]string) string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	if width == 0 {
		return ""
	}

	var b strings.Builder
	writeRow := func(row []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(row) {
				cell = tableCell(row[i])
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}

	writeRow(rows[0])
	b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}
