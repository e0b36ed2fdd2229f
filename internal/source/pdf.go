package source

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"pageturner/internal/book"

	pdflib "github.com/ledongthuc/pdf"
)

// PDFSource handles PDF files. It tries the native reader first, then
// falls back to pdftotext if enabled. Chunks keep the real PDF page
// numbers; a file whose text layer is too thin is flagged as scanned
// so its pages go through recognition instead.
type PDFSource struct {
	FallbackPdftotext bool
	MinCharsPerPage   int
}

func (s *PDFSource) Load(r io.Reader, filename string) (Result, error) {
	// ledongthuc/pdf requires a ReadSeeker+size, so write to a temp file.
	tmp, err := os.CreateTemp("", "pageturner-pdf-*.pdf")
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return Result{}, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	pages, err := extractPDFPages(tmpPath)
	if err != nil && s.FallbackPdftotext {
		pages, err = extractPdftotext(tmpPath)
	}
	if err != nil {
		return Result{}, fmt.Errorf("extract pdf text: %w", err)
	}

	var b builder
	total := 0
	for i, page := range pages {
		page = strings.TrimSpace(page)
		total += len(page)
		if page == "" {
			continue
		}
		b.res.Chunks = append(b.res.Chunks, book.ContentChunk{
			CaptureIndex: len(b.res.Chunks),
			PageNumber:   i + 1,
			Text:         page,
		})
	}

	res := b.finish(stem(filename))
	minChars := s.MinCharsPerPage
	if minChars <= 0 {
		minChars = 64
	}
	if len(pages) > 0 && total/len(pages) < minChars {
		res.Scanned = true
	}
	return res, nil
}

func extractPDFPages(path string) ([]string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func extractPdftotext(path string) ([]string, error) {
	cmd := exec.Command("pdftotext", "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	// pdftotext separates pages with form feeds.
	return strings.Split(string(out), "\f"), nil
}
