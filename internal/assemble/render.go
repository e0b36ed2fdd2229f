package assemble

import (
	"strings"

	"pageturner/internal/book"
)

// Render produces the markdown document artifact. Output is a pure
// function of the document, so re-rendering is byte-identical.
func Render(doc book.Document) []byte {
	var sb strings.Builder
	sb.WriteString("# " + doc.Title + "\n")
	if len(doc.Authors) > 0 {
		sb.WriteString("\nby " + strings.Join(doc.Authors, ", ") + "\n")
	}
	if len(doc.Sections) > 0 {
		sb.WriteString("\n## Contents\n\n")
		for _, s := range doc.Sections {
			sb.WriteString("- [" + s.Title + "](#" + s.Anchor + ")\n")
		}
	}
	for _, s := range doc.Sections {
		sb.WriteString("\n## " + s.Title + "\n")
		if s.Text != "" {
			sb.WriteString("\n" + s.Text + "\n")
		}
	}
	return []byte(sb.String())
}
