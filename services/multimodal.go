package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"infra-rag-platform/models"
)

const (
	tableFallbackChars   = 200
	surroundingTextChars = 500
	documentSummaryChars = 6000
	summaryFallbackChars = 500
)

var imageRefPattern = regexp.MustCompile(`!\[(.*?)\]\((.*?)\)`)

// ImageFetcher loads image bytes for a stored reference.
type ImageFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, string, error)
}

// MultimodalSummarizer writes searchable descriptions of tables, images and whole documents.
// None of its methods fail: generator errors degrade to deterministic text.
type MultimodalSummarizer struct {
	generator Generator
	fetcher   ImageFetcher
	logger    *slog.Logger
}

// NewMultimodalSummarizer builds a summarizer. fetcher may be nil, in which case images are described from context only.
func NewMultimodalSummarizer(generator Generator, fetcher ImageFetcher, logger *slog.Logger) *MultimodalSummarizer {
	return &MultimodalSummarizer{generator: generator, fetcher: fetcher, logger: logger}
}

// SummarizeTable describes a markdown table in prose, keeping exact values.
func (ms *MultimodalSummarizer) SummarizeTable(ctx context.Context, table string, meta models.UnitMetadata) string {
	prompt := buildTablePrompt(table, meta)
	summary, err := ms.generator.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(summary) == "" {
		ms.logger.Warn("table summary fell back to metadata", "source", meta.Source, "section", meta.SectionPath, "error", err)
		return tableFallback(table, meta)
	}
	return strings.TrimSpace(summary)
}

// DescribeImage captions an image reference. It tries the image bytes first, then alt and surrounding text.
func (ms *MultimodalSummarizer) DescribeImage(ctx context.Context, imageRef, surrounding string, meta models.UnitMetadata) string {
	alt, url := parseImageRef(imageRef)

	if ms.fetcher != nil && url != "" {
		data, mimeType, err := ms.fetcher.Fetch(ctx, url)
		if err == nil && len(data) > 0 {
			caption, genErr := ms.generator.GenerateWithImage(ctx, buildImagePrompt(meta), data, mimeType)
			if genErr == nil && strings.TrimSpace(caption) != "" {
				return strings.TrimSpace(caption)
			}
			err = genErr
		}
		ms.logger.Debug("image analysis unavailable, using context", "url", url, "error", err)
	}

	caption, err := ms.generator.Generate(ctx, buildImageContextPrompt(alt, surrounding, meta))
	if err != nil || strings.TrimSpace(caption) == "" {
		ms.logger.Warn("image caption fell back to metadata", "source", meta.Source, "error", err)
		return imageFallback(alt, meta)
	}
	return strings.TrimSpace(caption)
}

// SummarizeDocument writes the short summary used for role routing.
func (ms *MultimodalSummarizer) SummarizeDocument(ctx context.Context, name, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return name
	}
	summary, err := ms.generator.Generate(ctx, buildDocumentSummaryPrompt(name, truncateRunes(text, documentSummaryChars)))
	if err != nil || strings.TrimSpace(summary) == "" {
		ms.logger.Warn("document summary fell back to leading text", "source", name, "error", err)
		return truncateRunes(text, summaryFallbackChars)
	}
	return strings.TrimSpace(summary)
}

func buildTablePrompt(table string, meta models.UnitMetadata) string {
	return fmt.Sprintf(`You are indexing a table so that it can be found by semantic search.

Document: %s
Section: %s

Table:
%s

Write a dense description of this table:
1. State what the table is for in one sentence.
2. List every column header and what it represents.
3. Go through the rows and state their values, keeping exact numbers, units, codes and identifiers.
4. Mention totals, ranges or notable outliers if present.

Write plain prose without markdown. Do not invent values that are not in the table.`,
		meta.Source, sectionOrNone(meta.SectionPath), table)
}

func buildImagePrompt(meta models.UnitMetadata) string {
	return fmt.Sprintf(`You are indexing an image from the document "%s" (%s, Section: %s) so that it can be found by semantic search.

Describe the image in detail:
- every visible object, component and label
- all readable text, numbers and identifiers, verbatim
- for diagrams, the parts and how they connect
- for charts, the axes, series, units and the overall trend
- the technical or domain terminology a reader would search for

Write plain prose without markdown.`,
		meta.Source, pageLabel(meta.Page), sectionOrNone(meta.SectionPath))
}

func buildImageContextPrompt(alt, surrounding string, meta models.UnitMetadata) string {
	return fmt.Sprintf(`An image from the document "%s" (Section: %s) cannot be viewed directly.

Alt text: %s
Text around the image:
%s

Based only on this context, describe what the image most likely shows, using the terms a reader would search for. Keep it to three sentences.`,
		meta.Source, sectionOrNone(meta.SectionPath), orNone(alt), orNone(truncateRunes(surrounding, surroundingTextChars)))
}

func buildDocumentSummaryPrompt(name, text string) string {
	return fmt.Sprintf(`Summarize the document "%s" for routing to the team responsible for it.

In three to five sentences, state the subject, the systems or assets involved, and the actions or decisions it calls for.

Document text:
%s`, name, text)
}

func tableFallback(table string, meta models.UnitMetadata) string {
	return fmt.Sprintf("Table from %s: %s...", meta.Source, truncateRunes(table, tableFallbackChars))
}

func imageFallback(alt string, meta models.UnitMetadata) string {
	if alt == "" {
		alt = "image"
	}
	return fmt.Sprintf("Image: %s from %s (%s, Section: %s)", alt, meta.Source, pageLabel(meta.Page), sectionOrNone(meta.SectionPath))
}

func parseImageRef(ref string) (alt, url string) {
	m := imageRefPattern.FindStringSubmatch(ref)
	if m == nil {
		return "", strings.TrimSpace(ref)
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
}

func pageLabel(page int) string {
	if page <= 0 {
		return "Page N/A"
	}
	return fmt.Sprintf("Page %d", page)
}

func sectionOrNone(path string) string {
	if path == "" {
		return "N/A"
	}
	return path
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
