package services

import (
	"regexp"
	"strconv"
	"strings"

	"infra-rag-platform/models"
)

// SectionPathSeparator joins enclosing heading texts into a section path.
const SectionPathSeparator = " > "

const maxSplitHeadingLevel = 5

var (
	imageLinePattern  = regexp.MustCompile(`^!\[.*?\]\(.*?\)`)
	tableRowPattern   = regexp.MustCompile(`^\s*\|.*\|\s*$`)
	pageMarkerPattern = regexp.MustCompile(`^\s*<!--\s*page:\s*(\d+)\s*-->\s*$`)
	fenceLinePattern  = regexp.MustCompile("^\\s{0,3}(```|~~~)")
)

// ContentUnit is one typed structural unit of a document, in reading order.
type ContentUnit struct {
	Content  string
	Kind     models.ContentKind
	Metadata models.UnitMetadata
}

// MarkdownSplitter breaks markdown into heading-scoped text, table and image units.
type MarkdownSplitter struct{}

func NewMarkdownSplitter() *MarkdownSplitter {
	return &MarkdownSplitter{}
}

type sectionLine struct {
	text string
	page int
	code bool
}

type section struct {
	path  string
	lines []sectionLine
}

func (s *section) hasContent() bool {
	for _, l := range s.lines {
		if strings.TrimSpace(l.text) != "" {
			return true
		}
	}
	return false
}

type rawUnit struct {
	kind    models.ContentKind
	content string
	page    int
}

// Split returns the units of markdown with base metadata copied onto each one.
// Page markers of the form <!-- page: N --> set the page of the units that follow and are dropped.
func (s *MarkdownSplitter) Split(markdown string, base models.UnitMetadata) []ContentUnit {
	var units []ContentUnit
	seq := 0

	for _, sec := range s.sections(markdown, base.Page) {
		// Sections reach here only with a non-blank line, so scanSection yields at least one unit.
		for _, r := range scanSection(sec) {
			meta := base
			meta.SectionPath = sec.path
			meta.SequenceIndex = seq
			meta.Kind = r.kind
			meta.SchemaVersion = models.MetadataSchemaVersion
			if r.page > 0 {
				meta.Page = r.page
			}
			if base.Extra != nil {
				meta.Extra = make(map[string]string, len(base.Extra))
				for k, v := range base.Extra {
					meta.Extra[k] = v
				}
			}
			units = append(units, ContentUnit{Content: r.content, Kind: r.kind, Metadata: meta})
			seq++
		}
	}

	return units
}

// sections cuts the document at H1-H5 headings. Heading lines stay in their section.
func (s *MarkdownSplitter) sections(markdown string, startPage int) []section {
	var (
		out     []section
		headers [maxSplitHeadingLevel]string
		page    = startPage
		inFence bool
		cur     = section{}
	)

	flush := func() {
		if cur.hasContent() {
			out = append(out, cur)
		}
	}

	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimRight(line, "\r")

		if !inFence {
			if m := pageMarkerPattern.FindStringSubmatch(line); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					page = n
				}
				continue
			}
		}

		if fenceLinePattern.MatchString(line) {
			inFence = !inFence
			cur.lines = append(cur.lines, sectionLine{text: line, page: page, code: true})
			continue
		}

		if !inFence {
			if level, title, ok := parseHeading(line); ok {
				flush()
				headers[level-1] = title
				for i := level; i < maxSplitHeadingLevel; i++ {
					headers[i] = ""
				}
				cur = section{path: joinHeaders(headers[:level])}
			}
		}

		cur.lines = append(cur.lines, sectionLine{text: line, page: page, code: inFence})
	}
	flush()

	return out
}

// parseHeading recognizes ATX headings of level 1 to 5.
func parseHeading(line string) (int, string, bool) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return 0, "", false
	}
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > maxSplitHeadingLevel {
		return 0, "", false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	title := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest), "#"))
	if title == "" {
		return 0, "", false
	}
	return level, title, true
}

func joinHeaders(headers []string) string {
	parts := make([]string, 0, len(headers))
	for _, h := range headers {
		if h != "" {
			parts = append(parts, h)
		}
	}
	return strings.Join(parts, SectionPathSeparator)
}

// scanSection separates interleaved text, table and image runs.
// Blank lines neither open a unit nor close an open run.
func scanSection(sec section) []rawUnit {
	var (
		units []rawUnit
		buf   []sectionLine
		mode  models.ContentKind
	)

	flush := func() {
		if len(buf) > 0 {
			texts := make([]string, len(buf))
			for i, l := range buf {
				texts[i] = l.text
			}
			if content := strings.TrimSpace(strings.Join(texts, "\n")); content != "" {
				units = append(units, rawUnit{kind: mode, content: content, page: buf[0].page})
			}
		}
		buf = nil
		mode = ""
	}

	for _, l := range sec.lines {
		stripped := strings.TrimSpace(l.text)
		switch {
		case l.code:
			if mode != models.KindText {
				flush()
				mode = models.KindText
			}
			buf = append(buf, l)
		case stripped == "":
			if mode != "" {
				buf = append(buf, l)
			}
		case imageLinePattern.MatchString(stripped):
			flush()
			units = append(units, rawUnit{kind: models.KindImage, content: stripped, page: l.page})
		case tableRowPattern.MatchString(l.text):
			if mode != models.KindTable {
				flush()
				mode = models.KindTable
			}
			buf = append(buf, l)
		default:
			if mode != models.KindText {
				flush()
				mode = models.KindText
			}
			buf = append(buf, l)
		}
	}
	flush()

	return units
}
