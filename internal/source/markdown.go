package source

import (
	"bytes"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownSource handles Markdown files using goldmark. Headings of
// any level become TOC boundaries; everything between them becomes
// one chunk per block.
type MarkdownSource struct{}

func (s *MarkdownSource) Load(r io.Reader, filename string) (Result, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return Result{}, err
	}

	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	var b builder
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			b.heading(string(node.Text(src)))
		default:
			b.paragraph(blockText(n, src))
		}
	}
	return b.finish(stem(filename)), nil
}

// blockText gets the text content of a goldmark AST node. Raw blocks
// (fenced code, HTML) keep their text in Lines; parsed blocks carry it
// in inline children, so reading both would emit everything twice.
func blockText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	if n.Type() == ast.TypeBlock && !n.HasChildren() {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			buf.Write(line.Value(src))
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
			continue
		}
		part := blockText(c, src)
		if part == "" {
			continue
		}
		if c.Type() == ast.TypeBlock && buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(part)
	}
	return strings.TrimSpace(buf.String())
}
