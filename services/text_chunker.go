package services

import (
	"strings"
	"unicode/utf8"
)

// Default chunking parameters, measured in characters.
const (
	DefaultChunkSize    = 400
	DefaultChunkOverlap = 50
	DefaultMinChunkSize = 50
)

// defaultSeparators lists break points from most to least structural.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// TextFragment is one chunk of a text unit.
type TextFragment struct {
	Text  string
	Index int
	Total int
}

// TextChunker recursively splits text into overlapping, size-bounded fragments.
type TextChunker struct {
	chunkSize    int
	overlap      int
	minChunkSize int
	separators   []string
}

// ChunkerOption configures a TextChunker.
type ChunkerOption func(*TextChunker)

func WithChunkSize(n int) ChunkerOption {
	return func(c *TextChunker) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

func WithOverlap(n int) ChunkerOption {
	return func(c *TextChunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

func WithMinChunkSize(n int) ChunkerOption {
	return func(c *TextChunker) {
		if n >= 0 {
			c.minChunkSize = n
		}
	}
}

func NewTextChunker(opts ...ChunkerOption) *TextChunker {
	c := &TextChunker{
		chunkSize:    DefaultChunkSize,
		overlap:      DefaultChunkOverlap,
		minChunkSize: DefaultMinChunkSize,
		separators:   defaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

func (c *TextChunker) ChunkSize() int { return c.chunkSize }

// Chunk splits text. Text shorter than the minimum size comes back verbatim as a single fragment.
func (c *TextChunker) Chunk(text string) []TextFragment {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if runeLen(trimmed) < c.minChunkSize {
		return []TextFragment{{Text: text, Index: 0, Total: 1}}
	}

	pieces := c.split(trimmed, c.separators)
	out := make([]TextFragment, len(pieces))
	for i, p := range pieces {
		out[i] = TextFragment{Text: p, Index: i, Total: len(pieces)}
	}
	return out
}

func (c *TextChunker) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			rest = separators[i+1:]
			break
		}
	}

	var (
		final []string
		good  []string
	)
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) < c.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, c.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, c.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, c.merge(good)...)
	}
	return final
}

// merge packs small pieces into chunks, carrying up to overlap characters into the next chunk.
func (c *TextChunker) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		total   int
	)

	emit := func() {
		if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
			docs = append(docs, doc)
		}
	}

	for _, p := range pieces {
		n := runeLen(p)
		if total+n > c.chunkSize && len(current) > 0 {
			emit()
			for len(current) > 0 && (total > c.overlap || total+n > c.chunkSize) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if len(current) > 0 {
		emit()
	}
	return docs
}

// splitKeepSeparator splits on sep and glues each separator to the piece after it.
// The empty separator splits into single characters.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
