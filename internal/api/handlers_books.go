package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pageturner/internal/export"
	"pageturner/internal/store"
)

// handleListBooks lists every book directory and which artifacts it
// has.
func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.orchestrator.Store().ListBooks()
	if err != nil {
		jsonError(w, "failed to list books: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"books": books})
}

// handleGetBook returns the capture metadata for one book.
func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "bookID")
	if !store.ValidID(bookID) {
		jsonError(w, "invalid book id", http.StatusBadRequest)
		return
	}
	md, err := s.orchestrator.Store().ReadMetadata(bookID)
	if err != nil {
		if store.IsNotExist(err) {
			jsonError(w, "book not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to read metadata: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(md)
}

// handleGetDocument serves the assembled document, as markdown or as
// rendered HTML.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "bookID")
	if !store.ValidID(bookID) {
		jsonError(w, "invalid book id", http.StatusBadRequest)
		return
	}
	data, err := s.orchestrator.Store().ReadDocument(bookID)
	if err != nil {
		if store.IsNotExist(err) {
			jsonError(w, "document not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to read document: "+err.Error(), http.StatusInternalServerError)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write(data)
	case "html":
		title := bookID
		if md, err := s.orchestrator.Store().ReadMetadata(bookID); err == nil && md.Meta.Title != "" {
			title = md.Meta.Title
		}
		page, err := export.ToHTML(data, title)
		if err != nil {
			jsonError(w, "failed to render html: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	default:
		jsonError(w, fmt.Sprintf("unknown format %q", format), http.StatusBadRequest)
	}
}

// handleDeleteBook removes a book directory and all its artifacts.
func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "bookID")
	if !store.ValidID(bookID) {
		jsonError(w, "invalid book id", http.StatusBadRequest)
		return
	}
	if err := s.orchestrator.Store().DeleteBook(bookID); err != nil {
		if store.IsNotExist(err) {
			jsonError(w, "book not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to delete book: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("book deleted", "book_id", bookID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"deleted": bookID})
}
