package store

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"pageturner/internal/book"
)

const (
	pagesDirName     = "pages"
	metadataFileName = "metadata.json"
	contentFileName  = "content.json"
	documentFileName = "document.md"
)

// Store owns the on-disk layout of book artifacts. Each book lives in
// its own directory under the root; each stage writes only its own
// artifact.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string {
	return s.root
}

// BookInfo summarizes one book directory for listings.
type BookInfo struct {
	ID          string `json:"book_id"`
	Title       string `json:"title"`
	PageCount   int    `json:"page_count"`
	HasContent  bool   `json:"has_content"`
	HasDocument bool   `json:"has_document"`
}

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidID reports whether id is usable as a book directory name.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

func (s *Store) dir(bookID string) (string, error) {
	if !validID.MatchString(bookID) {
		return "", fmt.Errorf("invalid book id %q", bookID)
	}
	return filepath.Join(s.root, bookID), nil
}

// PageImageName formats the file name for one captured page,
// zero-padded so lexical order matches capture order.
func PageImageName(captureIndex, pageNumber int) string {
	return fmt.Sprintf("%04d-%04d.png", captureIndex, pageNumber)
}

var pageImageRe = regexp.MustCompile(`^(\d+)-(\d+)\.png$`)

// ParsePageImageName recovers (captureIndex, pageNumber) from a page
// file name written by WritePageImage.
func ParsePageImageName(name string) (captureIndex, pageNumber int, ok bool) {
	m := pageImageRe.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	idx, err1 := strconv.Atoi(m[1])
	page, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return idx, page, true
}

// WritePageImage writes one page screenshot atomically and returns
// the stored path.
func (s *Store) WritePageImage(bookID string, captureIndex, pageNumber int, data []byte) (string, error) {
	dir, err := s.dir(bookID)
	if err != nil {
		return "", err
	}
	pagesDir := filepath.Join(dir, pagesDirName)
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return "", fmt.Errorf("create pages dir: %w", err)
	}
	path := filepath.Join(pagesDir, PageImageName(captureIndex, pageNumber))
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write page image: %w", err)
	}
	return path, nil
}

// ListPageImages reconstructs the captured page list from the pages
// directory, ordered by capture index. Total-pages information is not
// recoverable from file names and is left zero.
func (s *Store) ListPageImages(bookID string) ([]book.CapturedPage, error) {
	dir, err := s.dir(bookID)
	if err != nil {
		return nil, err
	}
	pagesDir := filepath.Join(dir, pagesDirName)
	entries, err := os.ReadDir(pagesDir)
	if err != nil {
		return nil, fmt.Errorf("read pages dir: %w", err)
	}
	var pages []book.CapturedPage
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, page, ok := ParsePageImageName(e.Name())
		if !ok {
			continue
		}
		pages = append(pages, book.CapturedPage{
			CaptureIndex: idx,
			PageNumber:   page,
			ImagePath:    filepath.Join(pagesDir, e.Name()),
		})
	}
	sort.Slice(pages, func(i, j int) bool {
		return pages[i].CaptureIndex < pages[j].CaptureIndex
	})
	return pages, nil
}

func (s *Store) WriteMetadata(bookID string, md book.Metadata) error {
	return s.writeJSON(bookID, metadataFileName, md)
}

func (s *Store) ReadMetadata(bookID string) (book.Metadata, error) {
	var md book.Metadata
	err := s.readJSON(bookID, metadataFileName, &md)
	return md, err
}

func (s *Store) WriteChunks(bookID string, chunks []book.ContentChunk) error {
	if chunks == nil {
		chunks = []book.ContentChunk{}
	}
	return s.writeJSON(bookID, contentFileName, chunks)
}

func (s *Store) ReadChunks(bookID string) ([]book.ContentChunk, error) {
	var chunks []book.ContentChunk
	err := s.readJSON(bookID, contentFileName, &chunks)
	return chunks, err
}

func (s *Store) WriteDocument(bookID string, data []byte) error {
	dir, err := s.dir(bookID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create book dir: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, documentFileName), data)
}

func (s *Store) ReadDocument(bookID string) ([]byte, error) {
	dir, err := s.dir(bookID)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(dir, documentFileName))
}

// GetBook summarizes a single book directory.
func (s *Store) GetBook(bookID string) (BookInfo, error) {
	dir, err := s.dir(bookID)
	if err != nil {
		return BookInfo{}, err
	}
	if _, err := os.Stat(dir); err != nil {
		return BookInfo{}, err
	}
	return s.describe(bookID, dir), nil
}

// ListBooks summarizes every book directory under the root.
func (s *Store) ListBooks() ([]BookInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read store root: %w", err)
	}
	books := []BookInfo{}
	for _, e := range entries {
		if !e.IsDir() || !validID.MatchString(e.Name()) {
			continue
		}
		books = append(books, s.describe(e.Name(), filepath.Join(s.root, e.Name())))
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books, nil
}

func (s *Store) describe(bookID, dir string) BookInfo {
	info := BookInfo{ID: bookID}
	if md, err := s.ReadMetadata(bookID); err == nil {
		info.Title = md.Meta.Title
		info.PageCount = len(md.Pages)
	} else if pages, err := s.ListPageImages(bookID); err == nil {
		info.PageCount = len(pages)
	}
	if _, err := os.Stat(filepath.Join(dir, contentFileName)); err == nil {
		info.HasContent = true
	}
	if _, err := os.Stat(filepath.Join(dir, documentFileName)); err == nil {
		info.HasDocument = true
	}
	return info
}

// DeleteBook removes a book directory and all its artifacts.
func (s *Store) DeleteBook(bookID string) error {
	dir, err := s.dir(bookID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *Store) writeJSON(bookID, name string, v any) error {
	dir, err := s.dir(bookID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create book dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	data = append(data, '\n')
	if err := writeFileAtomic(filepath.Join(dir, name), data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (s *Store) readJSON(bookID, name string, v any) error {
	dir, err := s.dir(bookID)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// writeFileAtomic writes via a temp file in the same directory plus
// rename, so a cancelled run never leaves a half-written artifact.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// HashHex computes SHA-256 of content and returns the hex string.
// Used to detect a recaptured frame that is byte-identical to the
// previous one.
func HashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}

// IsNotExist reports whether err means the artifact has not been
// written yet.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
