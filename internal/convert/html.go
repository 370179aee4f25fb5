package convert

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"infra-rag-platform/models"
)

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "nav": true,
	"footer": true, "header": true, "head": true, "iframe": true, "form": true,
}

// HTMLConverter maps the block structure of an HTML page to markdown.
// Inline data: images become extracted images behind image:// placeholders.
type HTMLConverter struct{}

func (HTMLConverter) Convert(_ context.Context, _ string, data []byte) (*models.ConvertedDocument, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	w := &htmlWriter{}
	root := doc.Find("main, article").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	if root.Length() == 0 {
		root = doc.Selection
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" && root.Find("h1").Length() == 0 {
		w.block("# " + title)
	}
	w.walk(root)

	markdown := strings.Join(w.blocks, "\n\n")
	if strings.TrimSpace(markdown) == "" {
		return nil, fmt.Errorf("%w: page has no text", models.ErrInvalidInput)
	}
	return &models.ConvertedDocument{Markdown: markdown + "\n", Images: w.images, PageCount: 1}, nil
}

type htmlWriter struct {
	blocks []string
	images []models.ExtractedImage
}

func (w *htmlWriter) block(s string) {
	if s = strings.TrimSpace(s); s != "" {
		w.blocks = append(w.blocks, s)
	}
}

func (w *htmlWriter) walk(sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		if skippedElements[name] {
			return
		}
		switch name {
		case "#text":
			w.block(inlineText(s))
		case "h1", "h2", "h3", "h4", "h5", "h6":
			w.block(strings.Repeat("#", int(name[1]-'0')) + " " + inlineText(s))
		case "p":
			w.block(inlineText(s))
			s.Find("img").Each(func(_ int, img *goquery.Selection) { w.image(img) })
		case "img":
			w.image(s)
		case "figure":
			s.Find("img").Each(func(_ int, img *goquery.Selection) { w.image(img) })
			w.block(inlineText(s.Find("figcaption")))
		case "ul", "ol":
			w.list(s, name == "ol")
		case "table":
			w.table(s)
		case "pre":
			w.block("```\n" + strings.Trim(s.Text(), "\n") + "\n```")
		case "blockquote":
			w.block("> " + inlineText(s))
		case "br", "hr":
		default:
			w.walk(s)
		}
	})
}

func (w *htmlWriter) list(s *goquery.Selection, ordered bool) {
	var items []string
	s.ChildrenFiltered("li").Each(func(i int, li *goquery.Selection) {
		marker := "-"
		if ordered {
			marker = fmt.Sprintf("%d.", i+1)
		}
		if text := inlineText(li); text != "" {
			items = append(items, marker+" "+text)
		}
	})
	w.block(strings.Join(items, "\n"))
}

func (w *htmlWriter) table(s *goquery.Selection) {
	var rows [][]string
	s.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var row []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			row = append(row, cell.Text())
		})
		if len(row) > 0 {
			rows = append(rows, row)
		}
	})
	if len(rows) > 0 {
		w.block(markdownTable(rows))
	}
}

func (w *htmlWriter) image(s *goquery.Selection) {
	src, ok := s.Attr("src")
	if !ok || src == "" {
		return
	}
	alt := strings.TrimSpace(s.AttrOr("alt", ""))

	if strings.HasPrefix(src, "data:") {
		mimeType, data, ok := decodeDataURI(src)
		if !ok {
			return
		}
		idx := len(w.images)
		w.images = append(w.images, models.ExtractedImage{Index: idx, MimeType: mimeType, Data: data})
		src = fmt.Sprintf("%s%d", models.ImagePlaceholderScheme, idx)
	}
	w.block(fmt.Sprintf("![%s](%s)", alt, src))
}

func inlineText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

// decodeDataURI handles base64 data URIs of the form data:<mime>;base64,<payload>.
func decodeDataURI(uri string) (string, []byte, bool) {
	meta, payload, found := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return "", nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, false
	}
	return strings.TrimSuffix(meta, ";base64"), data, true
}
