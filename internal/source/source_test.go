package source

import "testing"

func TestForFile(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"notes.txt", "*source.TextSource"},
		{"readme.md", "*source.MarkdownSource"},
		{"notes.markdown", "*source.MarkdownSource"},
		{"page.html", "*source.HTMLSource"},
		{"page.htm", "*source.HTMLSource"},
		{"book.pdf", "*source.PDFSource"},
		{"report.docx", "*source.DocxSource"},
		{"BOOK.PDF", "*source.PDFSource"},
	}
	for _, tt := range tests {
		src, err := ForFile(tt.filename)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.filename, err)
		}
		if got := typeName(src); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.filename, tt.want, got)
		}
	}

	if _, err := ForFile("data.xls"); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := ForFile("noextension"); err == nil {
		t.Error("expected error for missing extension")
	}
}

func typeName(s Source) string {
	switch s.(type) {
	case *TextSource:
		return "*source.TextSource"
	case *MarkdownSource:
		return "*source.MarkdownSource"
	case *HTMLSource:
		return "*source.HTMLSource"
	case *PDFSource:
		return "*source.PDFSource"
	case *DocxSource:
		return "*source.DocxSource"
	}
	return "unknown"
}

func TestIsSupportedExtension(t *testing.T) {
	supported := []string{"a.txt", "b.md", "c.html", "d.htm", "e.pdf", "f.docx", "G.PDF"}
	for _, f := range supported {
		if !IsSupportedExtension(f) {
			t.Errorf("expected %q to be supported", f)
		}
	}
	unsupported := []string{"a.exe", "b.csv", "c", "d.png", ""}
	for _, f := range unsupported {
		if IsSupportedExtension(f) {
			t.Errorf("expected %q to be unsupported", f)
		}
	}
}
