package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pageturner/internal/book"
	"pageturner/internal/config"
	"pageturner/internal/pipeline"
	"pageturner/internal/store"
	"pageturner/internal/transcribe"
)

// testServer wires handlers to a real store and an orchestrator that
// is never started, so submitted jobs stay queued and inspectable.
func testServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		APIKey:         "test-key",
		DataDir:        st.Root(),
		WorkerCount:    1,
		MaxQueueSize:   4,
		MaxUploadBytes: 1 << 20,
		JobTTL:         time.Hour,
	}
	orch := pipeline.NewOrchestrator(cfg, nil, nil, st, log)
	vision := transcribe.NewVisionClient("unused", "claude-test-model")
	return NewServer(orch, vision, log, cfg), st
}

func doRequest(srv *Server, method, target, contentType string, body io.Reader, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer test-key")
	}
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return m
}

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHealth_NoAuthRequired(t *testing.T) {
	srv, _ := testServer(t)
	rr := doRequest(srv, http.MethodGet, "/health", "", nil, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestAuth_Rejections(t *testing.T) {
	srv, _ := testServer(t)

	rr := doRequest(srv, http.MethodGet, "/api/books", "", nil, false)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without header, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad key, got %d", rec.Code)
	}
}

func TestCaptureBook_Validation(t *testing.T) {
	srv, _ := testServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing url", `{}`},
		{"bad scheme", `{"url":"ftp://archive.org/details/x"}`},
		{"negative start", `{"url":"https://archive.org/details/x","start_page":-1}`},
		{"bad stage", `{"url":"https://archive.org/details/x","stages":"polish"}`},
	}
	for _, tc := range cases {
		rr := doRequest(srv, http.MethodPost, "/api/books", "application/json", strings.NewReader(tc.body), true)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d (%s)", tc.name, rr.Code, rr.Body.String())
		}
	}
}

func TestCaptureBook_Accepted(t *testing.T) {
	srv, _ := testServer(t)

	body := `{"url":"https://archive.org/details/My_Great_Book","title":"My Great Book","max_pages":5}`
	rr := doRequest(srv, http.MethodPost, "/api/books", "application/json", strings.NewReader(body), true)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", rr.Code, rr.Body.String())
	}

	resp := decodeBody(t, rr)
	jobID, _ := resp["job_id"].(string)
	if len(jobID) != 26 {
		t.Errorf("expected a 26-char job id, got %q", jobID)
	}
	if resp["book_id"] != "my-great-book" {
		t.Errorf("expected slugged book id, got %v", resp["book_id"])
	}
	if resp["poll_url"] != "/api/jobs/"+jobID {
		t.Errorf("unexpected poll_url %v", resp["poll_url"])
	}

	job := srv.orchestrator.GetJob(jobID)
	if job == nil {
		t.Fatal("expected job to be registered")
	}
	snap := job.Snapshot()
	if snap.Kind != pipeline.KindCapture || snap.Status != pipeline.StatusQueued {
		t.Errorf("unexpected job state: kind=%q status=%q", snap.Kind, snap.Status)
	}
	if snap.Title != "My Great Book" {
		t.Errorf("expected title to carry through, got %q", snap.Title)
	}
}

func TestImportBook_Accepted(t *testing.T) {
	srv, _ := testServer(t)

	body, ct := multipartUpload(t, "alice.txt", []byte("Down the rabbit hole.\n"), nil)
	rr := doRequest(srv, http.MethodPost, "/api/books/import", ct, body, true)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", rr.Code, rr.Body.String())
	}

	resp := decodeBody(t, rr)
	if resp["book_id"] != "alice" {
		t.Errorf("expected book id from filename stem, got %v", resp["book_id"])
	}
	jobID, _ := resp["job_id"].(string)
	job := srv.orchestrator.GetJob(jobID)
	if job == nil {
		t.Fatal("expected job to be registered")
	}
	if job.Snapshot().Kind != pipeline.KindImport {
		t.Errorf("expected import job, got %q", job.Snapshot().Kind)
	}
	if job.FileData() == nil {
		t.Error("expected upload bytes on the job")
	}
	if job.OCRMode != "auto" {
		t.Errorf("expected default ocr mode auto, got %q", job.OCRMode)
	}
}

func TestImportBook_UnsupportedType(t *testing.T) {
	srv, _ := testServer(t)
	body, ct := multipartUpload(t, "malware.exe", []byte("MZ"), nil)
	rr := doRequest(srv, http.MethodPost, "/api/books/import", ct, body, true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestImportBook_BadOCRMode(t *testing.T) {
	srv, _ := testServer(t)
	body, ct := multipartUpload(t, "scan.pdf", []byte("%PDF-1.4"), map[string]string{"ocr": "maybe"})
	rr := doRequest(srv, http.MethodPost, "/api/books/import", ct, body, true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rr.Code, rr.Body.String())
	}
}

func TestJobStatus(t *testing.T) {
	srv, _ := testServer(t)

	rr := doRequest(srv, http.MethodGet, "/api/jobs/01UNKNOWNJOBIDXXXXXXXXXXXX", "", nil, true)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	body := `{"url":"https://archive.org/details/statusbook"}`
	created := doRequest(srv, http.MethodPost, "/api/books", "application/json", strings.NewReader(body), true)
	jobID, _ := decodeBody(t, created)["job_id"].(string)

	rr = doRequest(srv, http.MethodGet, "/api/jobs/"+jobID, "", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeBody(t, rr)
	if resp["status"] != string(pipeline.StatusQueued) {
		t.Errorf("expected queued, got %v", resp["status"])
	}
	if resp["book_id"] != "statusbook" {
		t.Errorf("unexpected book_id %v", resp["book_id"])
	}
}

func TestListBooks(t *testing.T) {
	srv, st := testServer(t)

	rr := doRequest(srv, http.MethodGet, "/api/books", "", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"books":[]`) {
		t.Errorf("expected empty list, got %s", rr.Body.String())
	}

	md := book.Metadata{Meta: book.Meta{Title: "Listed Book", Authors: []string{}}}
	if err := st.WriteMetadata("listed", md); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	rr = doRequest(srv, http.MethodGet, "/api/books", "", nil, true)
	if !strings.Contains(rr.Body.String(), "Listed Book") {
		t.Errorf("expected seeded book in list, got %s", rr.Body.String())
	}
}

func TestGetBook(t *testing.T) {
	srv, st := testServer(t)

	rr := doRequest(srv, http.MethodGet, "/api/books/nothere", "", nil, true)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	md := book.Metadata{
		Meta:  book.Meta{Title: "Found Book", Authors: []string{"A. Author"}},
		Pages: []book.CapturedPage{{CaptureIndex: 0, PageNumber: 1}},
	}
	if err := st.WriteMetadata("found", md); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	rr = doRequest(srv, http.MethodGet, "/api/books/found", "", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Found Book") {
		t.Errorf("expected metadata body, got %s", rr.Body.String())
	}
}

func TestGetBook_InvalidID(t *testing.T) {
	srv, _ := testServer(t)
	rr := doRequest(srv, http.MethodGet, "/api/books/-bad", "", nil, true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetDocument(t *testing.T) {
	srv, st := testServer(t)

	rr := doRequest(srv, http.MethodGet, "/api/books/nodoc/document", "", nil, true)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	docMD := "# Rendered Book\n\n## Contents\n\n- [One](#one)\n\n## One\n\nBody text.\n"
	if err := st.WriteDocument("rendered", []byte(docMD)); err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}
	if err := st.WriteMetadata("rendered", book.Metadata{Meta: book.Meta{Title: "Rendered Book", Authors: []string{}}}); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	rr = doRequest(srv, http.MethodGet, "/api/books/rendered/document", "", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("expected markdown content type, got %q", ct)
	}
	if rr.Body.String() != docMD {
		t.Error("expected raw markdown body")
	}

	rr = doRequest(srv, http.MethodGet, "/api/books/rendered/document?format=html", "", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for html, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected html content type, got %q", ct)
	}
	html := rr.Body.String()
	if !strings.Contains(html, "<title>Rendered Book</title>") || !strings.Contains(html, `id="one"`) {
		t.Errorf("unexpected html output: %s", html)
	}

	rr = doRequest(srv, http.MethodGet, "/api/books/rendered/document?format=epub", "", nil, true)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown format, got %d", rr.Code)
	}
}

func TestDeleteBook(t *testing.T) {
	srv, st := testServer(t)

	rr := doRequest(srv, http.MethodDelete, "/api/books/gone", "", nil, true)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	if err := st.WriteMetadata("doomed", book.Metadata{Meta: book.Meta{Title: "Doomed", Authors: []string{}}}); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	rr = doRequest(srv, http.MethodDelete, "/api/books/doomed", "", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if _, err := st.GetBook("doomed"); !store.IsNotExist(err) {
		t.Errorf("expected book to be gone, got %v", err)
	}
}

func TestRecognitionStats(t *testing.T) {
	srv, _ := testServer(t)
	rr := doRequest(srv, http.MethodGet, "/api/stats/recognition", "", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "claude-test-model") {
		t.Errorf("expected model name in stats, got %s", rr.Body.String())
	}
}
