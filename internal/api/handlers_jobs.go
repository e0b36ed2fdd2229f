package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pageturner/internal/assemble"
	"pageturner/internal/pipeline"
	"pageturner/internal/source"
	"pageturner/internal/store"
)

type captureRequest struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	StartPage int    `json:"start_page"`
	MaxPages  int    `json:"max_pages"`
	Stages    string `json:"stages"`
}

// handleCaptureBook queues a capture job for a remote reader URL.
// With stages set to "transcribe" or "assemble" the job skips the
// browser and picks up from that book's durable artifacts.
func (s *Server) handleCaptureBook(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	u, err := url.Parse(req.URL)
	if req.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		jsonError(w, "url must be an absolute http(s) url", http.StatusBadRequest)
		return
	}
	if req.StartPage < 0 || req.MaxPages < 0 {
		jsonError(w, "start_page and max_pages must not be negative", http.StatusBadRequest)
		return
	}
	stage := pipeline.Stage(req.Stages)
	if req.Stages != "" && !pipeline.ValidStage(stage) {
		jsonError(w, fmt.Sprintf("unknown stage %q", req.Stages), http.StatusBadRequest)
		return
	}

	bookID := bookIDFromURL(req.URL)
	if bookID == "" {
		bookID = store.HashHex([]byte(req.URL))[:12]
	}

	now := time.Now()
	job := &pipeline.Job{
		ID:         pipeline.NewID(),
		BookID:     bookID,
		Kind:       pipeline.KindCapture,
		URL:        req.URL,
		Title:      strings.TrimSpace(req.Title),
		StartStage: stage,
		StartPage:  req.StartPage,
		MaxPages:   req.MaxPages,
		Status:     pipeline.StatusQueued,
		Phase:      "queued",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeAccepted(w, job)
}

// handleImportBook accepts an uploaded file and queues a conversion
// job for it.
func (s *Server) handleImportBook(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !source.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return
	}

	ocrMode := r.FormValue("ocr")
	if ocrMode == "" {
		ocrMode = "auto"
	}
	switch ocrMode {
	case "auto", "force", "off":
	default:
		jsonError(w, fmt.Sprintf("ocr must be auto, force or off, got %q", ocrMode), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	bookID := assemble.Slugify(r.FormValue("book_id"))
	if r.FormValue("book_id") != "" && bookID == "" {
		jsonError(w, "book_id has no usable characters", http.StatusBadRequest)
		return
	}
	if bookID == "" {
		bookID = assemble.Slugify(strings.TrimSuffix(filename, filepath.Ext(filename)))
	}
	if bookID == "" {
		bookID = store.HashHex(data)[:12]
	}

	now := time.Now()
	job := &pipeline.Job{
		ID:        pipeline.NewID(),
		BookID:    bookID,
		Kind:      pipeline.KindImport,
		Filename:  filename,
		Title:     strings.TrimSpace(r.FormValue("title")),
		OCRMode:   ocrMode,
		Status:    pipeline.StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.SetFileData(data)

	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeAccepted(w, job)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Snapshot())
}

func writeAccepted(w http.ResponseWriter, job *pipeline.Job) {
	snap := job.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   snap.ID,
		"book_id":  snap.BookID,
		"status":   snap.Status,
		"poll_url": "/api/jobs/" + snap.ID,
	})
}

// bookIDFromURL derives a stable book id from a reader URL: the
// segment after "details" on archive-style paths, otherwise the last
// path segment.
func bookIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segs {
		if seg == "details" && i+1 < len(segs) {
			return assemble.Slugify(segs[i+1])
		}
	}
	if n := len(segs); n > 0 && segs[n-1] != "" {
		return assemble.Slugify(segs[n-1])
	}
	return ""
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
