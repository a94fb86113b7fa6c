package chunker

import (
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownChunker windows markdown like TextChunker and labels each chunk with
// the heading in force where the chunk starts.
type MarkdownChunker struct {
	text *TextChunker
	tok  Tokenizer
}

func NewMarkdownChunker(config Config, tok Tokenizer) *MarkdownChunker {
	return &MarkdownChunker{text: NewTextChunker(config, tok), tok: tok}
}

func (m *MarkdownChunker) Name() string {
	return "markdown"
}

type heading struct {
	offset int // byte offset of the heading text
	title  string
}

func (m *MarkdownChunker) Chunk(content string, metadata map[string]string) ([]Chunk, error) {
	// heading offsets and token offsets must be measured on the same bytes
	content = SanitizeUTF8(content)
	chunks, err := m.text.Chunk(content, metadata)
	if err != nil || len(chunks) == 0 {
		return chunks, err
	}

	headings := collectHeadings([]byte(content))
	if len(headings) == 0 {
		return chunks, nil
	}

	offsets := m.byteOffsets(content)
	for i := range chunks {
		if title := sectionAt(headings, offsets[chunks[i].Start]); title != "" {
			chunks[i].Metadata[MetaSection] = title
		}
	}
	return chunks, nil
}

// byteOffsets maps token index to the byte offset where that token starts.
func (m *MarkdownChunker) byteOffsets(content string) []int {
	tokens := m.tok.Encode(content)
	offsets := make([]int, len(tokens)+1)
	for i, t := range tokens {
		offsets[i+1] = offsets[i] + len(m.tok.Decode([]int{t}))
	}
	return offsets
}

func collectHeadings(source []byte) []heading {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var out []heading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			return ast.WalkContinue, nil
		}
		title := strings.TrimSpace(extractText(h, source))
		if title != "" {
			out = append(out, heading{offset: h.Lines().At(0).Start, title: title})
		}
		return ast.WalkSkipChildren, nil
	})

	sort.SliceStable(out, func(i, j int) bool { return out[i].offset < out[j].offset })
	return out
}

// sectionAt returns the last heading starting at or before offset.
func sectionAt(headings []heading, offset int) string {
	idx := sort.Search(len(headings), func(i int) bool { return headings[i].offset > offset })
	if idx == 0 {
		return ""
	}
	return headings[idx-1].title
}

func extractText(node ast.Node, source []byte) string {
	var buf strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.Text:
			buf.Write(c.Segment.Value(source))
		case *ast.String:
			buf.Write(c.Value)
		default:
			buf.WriteString(extractText(child, source))
		}
	}
	return buf.String()
}
