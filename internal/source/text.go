package source

import (
	"bufio"
	"io"
	"strings"
)

// TextSource handles plain text files. Blank lines split paragraphs.
type TextSource struct{}

func (s *TextSource) Load(r io.Reader, filename string) (Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var b builder
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			b.paragraph(current.String())
			current.Reset()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
		} else {
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return Result{}, err
	}
	return b.finish(stem(filename)), nil
}
