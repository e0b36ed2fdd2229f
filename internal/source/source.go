package source

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"pageturner/internal/book"
)

// Result is the normalized form of an uploaded file: a flat chunk
// sequence plus heading-derived TOC boundaries, in the same shape the
// capture stage produces so the rest of the pipeline cannot tell them
// apart.
type Result struct {
	Title  string
	Toc    []book.TocEntry
	Chunks []book.ContentChunk

	// Scanned marks a file with no usable text layer; its pages must
	// go through recognition instead.
	Scanned bool
}

// Source converts raw file bytes into a Result.
type Source interface {
	Load(r io.Reader, filename string) (Result, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".html": true,
	".htm":  true,
	".pdf":  true,
	".docx": true,
}

// ForFile returns the appropriate source for a filename.
func ForFile(filename string) (Source, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextSource{}, nil
	case ".md", ".markdown":
		return &MarkdownSource{}, nil
	case ".html", ".htm":
		return &HTMLSource{}, nil
	case ".pdf":
		return &PDFSource{FallbackPdftotext: true}, nil
	case ".docx":
		return &DocxSource{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// builder accumulates headings and paragraphs into a flat Result.
// Chunk ordinals double as page numbers, so heading boundaries resolve
// exactly like capture-derived TOC entries do.
type builder struct {
	res Result
}

func (b *builder) heading(title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}
	b.res.Toc = append(b.res.Toc, book.TocEntry{
		Title:     title,
		StartPage: len(b.res.Chunks) + 1,
	})
}

func (b *builder) paragraph(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	idx := len(b.res.Chunks)
	b.res.Chunks = append(b.res.Chunks, book.ContentChunk{
		CaptureIndex: idx,
		PageNumber:   idx + 1,
		Text:         text,
	})
}

// finish seals the result. A non-empty TOC gets a terminator entry,
// since the assembler treats the last entry as a boundary only.
func (b *builder) finish(fallbackTitle string) Result {
	if b.res.Title == "" {
		b.res.Title = fallbackTitle
	}
	if len(b.res.Toc) > 0 {
		b.res.Toc = append(b.res.Toc, book.TocEntry{Title: "End"})
	}
	return b.res
}

// stem derives a display title from a filename.
func stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
