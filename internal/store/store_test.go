package store

import (
	"os"
	"path/filepath"
	"testing"

	"pageturner/internal/book"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestHashHex_Consistency(t *testing.T) {
	data := []byte("hello world")
	h1 := HashHex(data)
	h2 := HashHex(data)
	if h1 != h2 {
		t.Errorf("expected identical hashes, got %q and %q", h1, h2)
	}
	// SHA-256 of "hello world" is well-known.
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if h1 != want {
		t.Errorf("expected hash %q, got %q", want, h1)
	}
}

func TestHashHex_DifferentInputs(t *testing.T) {
	if HashHex([]byte("aaa")) == HashHex([]byte("bbb")) {
		t.Error("expected different hashes for different inputs")
	}
}

func TestPageImageName_Format(t *testing.T) {
	cases := []struct {
		idx, page int
		want      string
	}{
		{0, 0, "0000-0000.png"},
		{7, 12, "0007-0012.png"},
		{123, 4567, "0123-4567.png"},
		{12345, 9, "12345-0009.png"},
	}
	for _, c := range cases {
		if got := PageImageName(c.idx, c.page); got != c.want {
			t.Errorf("PageImageName(%d, %d) = %q, want %q", c.idx, c.page, got, c.want)
		}
	}
}

func TestParsePageImageName_RoundTrip(t *testing.T) {
	idx, page, ok := ParsePageImageName(PageImageName(42, 87))
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if idx != 42 || page != 87 {
		t.Errorf("expected (42, 87), got (%d, %d)", idx, page)
	}
}

func TestParsePageImageName_Rejects(t *testing.T) {
	bad := []string{"", "0001.png", "a-b.png", "0001-0002.jpg", "0001-0002", ".tmp-123"}
	for _, name := range bad {
		if _, _, ok := ParsePageImageName(name); ok {
			t.Errorf("expected parse of %q to fail", name)
		}
	}
}

func TestWritePageImage_AndList(t *testing.T) {
	s := newTestStore(t)

	// Write out of order; listing must come back in capture order.
	if _, err := s.WritePageImage("bk1", 1, 4, []byte("img-b")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.WritePageImage("bk1", 0, 3, []byte("img-a")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.WritePageImage("bk1", 2, 4, []byte("img-c")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pages, err := s.ListPageImages("bk1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	for i, p := range pages {
		if p.CaptureIndex != i {
			t.Errorf("expected capture index %d at position %d, got %d", i, i, p.CaptureIndex)
		}
	}
	if pages[0].PageNumber != 3 || pages[1].PageNumber != 4 {
		t.Errorf("unexpected page numbers: %d, %d", pages[0].PageNumber, pages[1].PageNumber)
	}

	data, err := os.ReadFile(pages[0].ImagePath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "img-a" {
		t.Errorf("expected image bytes %q, got %q", "img-a", data)
	}
}

func TestWritePageImage_NoTempLeftovers(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.WritePageImage("bk1", 0, 1, []byte("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(s.Root(), "bk1", "pages"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 file, got %d", len(entries))
	}
	if entries[0].Name() != "0000-0001.png" {
		t.Errorf("unexpected file name %q", entries[0].Name())
	}
}

func TestMetadata_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	md := book.Metadata{
		Meta: book.Meta{Title: "A Book", Authors: []string{"A. Writer"}},
		Toc: []book.TocEntry{
			{Title: "Chapter 1", StartPage: 1},
			{Title: "End", StartPage: 9},
		},
		Pages: []book.CapturedPage{
			{CaptureIndex: 0, PageNumber: 1, ImagePath: "pages/0000-0001.png", TotalPages: 9},
		},
	}
	if err := s.WriteMetadata("bk1", md); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.ReadMetadata("bk1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Meta.Title != "A Book" {
		t.Errorf("expected title %q, got %q", "A Book", got.Meta.Title)
	}
	if len(got.Toc) != 2 || got.Toc[1].StartPage != 9 {
		t.Errorf("unexpected toc: %+v", got.Toc)
	}
	if len(got.Pages) != 1 || got.Pages[0].TotalPages != 9 {
		t.Errorf("unexpected pages: %+v", got.Pages)
	}
}

func TestChunks_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	chunks := []book.ContentChunk{
		{CaptureIndex: 0, PageNumber: 1, Text: "first"},
		{CaptureIndex: 1, PageNumber: 2, Text: "second"},
	}
	if err := s.WriteChunks("bk1", chunks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.ReadChunks("bk1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].Text != "second" {
		t.Errorf("unexpected chunks: %+v", got)
	}
}

func TestReadMetadata_Missing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReadMetadata("nope")
	if err == nil {
		t.Fatal("expected error for missing metadata")
	}
	if !IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestDeleteBook(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.WritePageImage("bk1", 0, 1, []byte("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.DeleteBook("bk1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "bk1")); !os.IsNotExist(err) {
		t.Errorf("expected book dir to be gone, got %v", err)
	}
}

func TestDeleteBook_InvalidID(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", "..", "a/b", ".hidden"} {
		if err := s.DeleteBook(id); err == nil {
			t.Errorf("expected error for id %q", id)
		}
	}
}

func TestListBooks(t *testing.T) {
	s := newTestStore(t)
	if err := s.WriteMetadata("bk2", book.Metadata{Meta: book.Meta{Title: "Second"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.WriteMetadata("bk1", book.Metadata{Meta: book.Meta{Title: "First"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.WriteDocument("bk1", []byte("# First\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	books, err := s.ListBooks()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("expected 2 books, got %d", len(books))
	}
	if books[0].ID != "bk1" || books[0].Title != "First" {
		t.Errorf("unexpected first book: %+v", books[0])
	}
	if !books[0].HasDocument {
		t.Error("expected bk1 to have a document")
	}
	if books[1].HasDocument {
		t.Error("expected bk2 to have no document")
	}
}

func TestDocument_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	want := []byte("# Title\n\nbody\n")
	if err := s.WriteDocument("bk1", want); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.ReadDocument("bk1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("expected document %q, got %q", want, got)
	}
}
