package services

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"infra-rag-platform/internal/vector"
)

const testDims = 64

var errModelDown = errors.New("model unavailable")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// hashEmbedder is a bag-of-words embedder: each lowercased word is hashed into one of testDims buckets.
// Texts containing failOn are rejected.
type hashEmbedder struct {
	mu     sync.Mutex
	calls  int
	fail   bool
	failOn string
}

func (e *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	fail := e.fail
	e.mu.Unlock()
	if fail || (e.failOn != "" && strings.Contains(text, e.failOn)) {
		return nil, errModelDown
	}
	return bagOfWords(text), nil
}

func (e *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func bagOfWords(text string) []float32 {
	v := make([]float32, testDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%testDims]++
	}
	return vector.Normalize(v)
}

// fixedEmbedder returns preset vectors by exact text and a zero vector otherwise.
type fixedEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (e *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errModelDown
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, 3), nil
}

func (e *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// scriptedGenerator answers through fn and records every prompt it sees.
type scriptedGenerator struct {
	mu      sync.Mutex
	fn      func(prompt string) (string, error)
	imageFn func(prompt string, image []byte, mimeType string) (string, error)
	prompts []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.fn == nil {
		return "generated text", nil
	}
	return g.fn(prompt)
}

func (g *scriptedGenerator) GenerateWithImage(_ context.Context, prompt string, image []byte, mimeType string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.imageFn == nil {
		return "", errModelDown
	}
	return g.imageFn(prompt, image, mimeType)
}

func (g *scriptedGenerator) promptCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *scriptedGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

func failingGenerator() *scriptedGenerator {
	return &scriptedGenerator{fn: func(string) (string, error) { return "", errModelDown }}
}

// echoSummaryGenerator echoes the table or document text of a prompt so summaries stay searchable.
func echoSummaryGenerator() *scriptedGenerator {
	return &scriptedGenerator{fn: func(prompt string) (string, error) {
		if i := strings.Index(prompt, "Table:\n"); i >= 0 {
			body := prompt[i+len("Table:\n"):]
			if j := strings.Index(body, "\n\n"); j >= 0 {
				body = body[:j]
			}
			return "Table listing " + body, nil
		}
		if i := strings.Index(prompt, "Document text:\n"); i >= 0 {
			return prompt[i+len("Document text:\n"):], nil
		}
		return "Summary of the document.", nil
	}}
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, "image/png", nil
}
