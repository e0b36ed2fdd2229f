package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"pageturner/internal/assemble"
	"pageturner/internal/book"
	"pageturner/internal/capture"
	"pageturner/internal/config"
	"pageturner/internal/source"
	"pageturner/internal/store"
	"pageturner/internal/transcribe"
)

// Worker processes a single book job.
type Worker struct {
	sessions Sessions
	rec      transcribe.Recognizer
	store    *store.Store
	log      *slog.Logger
	cfg      config.Config
}

func NewWorker(sessions Sessions, rec transcribe.Recognizer, st *store.Store, log *slog.Logger, cfg config.Config) *Worker {
	return &Worker{
		sessions: sessions,
		rec:      rec,
		store:    st,
		log:      log,
		cfg:      cfg,
	}
}

// Process runs the full conversion pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "book_id", job.BookID)

	switch job.Kind {
	case KindImport:
		w.processImport(ctx, job, log)
	default:
		w.processCapture(ctx, job, log)
	}
}

// processCapture drives a remote reader. A job can start from any
// stage boundary; later stages only trust the durable artifact their
// predecessor wrote.
func (w *Worker) processCapture(ctx context.Context, job *Job, log *slog.Logger) {
	stage := job.StartStage
	if stage == "" {
		stage = StageCapture
	}

	var (
		md        book.Metadata
		hadErrors bool
	)

	if stage == StageCapture {
		job.SetStatus(StatusLoading, "loading")
		sess, release, err := w.sessions.Acquire(ctx, job.URL)
		if err != nil {
			log.Error("reader unavailable", "url", job.URL, "error", err)
			job.AddError(fmt.Sprintf("open reader: %s", err))
			job.SetStatus(StatusFailed, "loading")
			return
		}

		job.SetStatus(StatusCapturing, "capturing")
		runner := capture.New(sess, w.store, log, capture.Config{
			StartPage:       firstPositive(job.StartPage, w.cfg.StartPage),
			Resume:          w.cfg.Resume,
			MaxPages:        firstPositive(job.MaxPages, w.cfg.MaxPages),
			MaxRetries:      w.cfg.MaxAdvanceRetries,
			StabilityWindow: w.cfg.StabilityWindow,
			PageDelay:       w.cfg.PageDelay,
			OnPage: func(pg book.CapturedPage) {
				job.PageCaptured(pg.TotalPages)
			},
		})
		res, err := runner.Run(ctx, job.BookID)
		// Release the browser before recognition so the next capture
		// job is not stuck behind it.
		release()
		if err != nil {
			log.Error("capture failed", "captured", len(res.Pages), "error", err)
			job.AddError(fmt.Sprintf("capture: %s", err))
			job.SetStatus(StatusFailed, "capturing")
			return
		}
		if len(res.Pages) == 0 {
			job.AddError("no pages captured")
			job.SetStatus(StatusFailed, "capturing")
			return
		}
		md = book.Metadata{Meta: res.Meta, Toc: res.Toc, Pages: res.Pages}
		if job.Title != "" {
			md.Meta.Title = job.Title
			if err := w.store.WriteMetadata(job.BookID, md); err != nil {
				log.Warn("metadata rewrite failed", "error", err)
			}
		}
		job.SetTotalPages(res.TotalPages)
		if res.Stagnated {
			job.AddError(fmt.Sprintf("reader stagnated after %d pages", len(res.Pages)))
			hadErrors = true
		}
	} else {
		var err error
		md, err = w.loadMetadata(job.BookID, log)
		if err != nil {
			log.Error("cannot resume without capture artifacts", "error", err)
			job.AddError(fmt.Sprintf("resume: %s", err))
			job.SetStatus(StatusFailed, string(stage))
			return
		}
		if job.Title != "" {
			md.Meta.Title = job.Title
			if err := w.store.WriteMetadata(job.BookID, md); err != nil {
				log.Warn("metadata rewrite failed", "error", err)
			}
		}
		for _, pg := range md.Pages {
			job.PageCaptured(pg.TotalPages)
		}
		job.SetTotalPages(metadataTotal(md))
	}

	var chunks []book.ContentChunk
	if stage == StageAssemble {
		var err error
		chunks, err = w.store.ReadChunks(job.BookID)
		if err != nil {
			log.Error("cannot resume without recognized content", "error", err)
			job.AddError(fmt.Sprintf("resume: %s", err))
			job.SetStatus(StatusFailed, "assembling")
			return
		}
	} else {
		var failed int
		var err error
		chunks, failed, err = w.recognize(ctx, job, md.Pages, log)
		if err != nil {
			log.Error("recognition failed", "error", err)
			job.AddError(fmt.Sprintf("recognition: %s", err))
			job.SetStatus(StatusFailed, "recognizing")
			return
		}
		if failed > 0 {
			job.AddError(fmt.Sprintf("%d pages failed recognition", failed))
			hadErrors = true
		}
	}
	if len(chunks) == 0 {
		job.AddError("no recognized content")
		job.SetStatus(StatusFailed, "recognizing")
		return
	}

	w.assembleAndFinish(job, md.Meta, md.Toc, chunks, hadErrors, log)
}

// processImport converts an uploaded file. Text-bearing files go
// straight to chunks; scanned PDFs are rendered to page images and
// follow the same recognition path as captured spreads.
func (w *Worker) processImport(ctx context.Context, job *Job, log *slog.Logger) {
	job.SetStatus(StatusLoading, "parsing")
	src, err := source.ForFile(job.Filename)
	if err != nil {
		log.Error("unsupported format", "filename", job.Filename, "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "parsing")
		return
	}

	data := job.FileData()
	job.SetFileData(nil) // do not pin the upload for the job's TTL

	res, err := src.Load(bytes.NewReader(data), job.Filename)
	if err != nil {
		log.Error("parse failed", "filename", job.Filename, "error", err)
		job.AddError(fmt.Sprintf("parse: %s", err))
		job.SetStatus(StatusFailed, "parsing")
		return
	}
	if job.Title != "" {
		res.Title = job.Title
	}
	meta := book.Meta{Title: res.Title, Authors: []string{}}

	isPDF := strings.EqualFold(filepath.Ext(job.Filename), ".pdf")
	force := job.OCRMode == "force"
	if force && !isPDF {
		log.Warn("ocr=force ignored for non-pdf upload", "filename", job.Filename)
		force = false
	}
	wantOCR := isPDF && (force || res.Scanned) && job.OCRMode != "off"

	if !wantOCR {
		if len(res.Chunks) == 0 {
			job.AddError("no extractable content")
			job.SetStatus(StatusFailed, "parsing")
			return
		}
		md := book.Metadata{Meta: meta, Toc: res.Toc, Pages: importPages(res.Chunks)}
		if err := w.store.WriteMetadata(job.BookID, md); err != nil {
			log.Error("metadata write failed", "error", err)
			job.AddError(fmt.Sprintf("write metadata: %s", err))
			job.SetStatus(StatusFailed, "parsing")
			return
		}
		if err := w.store.WriteChunks(job.BookID, res.Chunks); err != nil {
			log.Error("content write failed", "error", err)
			job.AddError(fmt.Sprintf("write content: %s", err))
			job.SetStatus(StatusFailed, "parsing")
			return
		}
		job.SetTotalPages(len(res.Chunks))
		w.assembleAndFinish(job, meta, res.Toc, res.Chunks, false, log)
		return
	}

	job.SetStatus(StatusCapturing, "rendering")
	images, err := source.RenderPages(data, w.cfg.PDFRenderDPI)
	if err != nil {
		log.Error("page rendering failed", "error", err)
		job.AddError(fmt.Sprintf("render: %s", err))
		job.SetStatus(StatusFailed, "rendering")
		return
	}
	if len(images) == 0 {
		job.AddError("pdf has no pages")
		job.SetStatus(StatusFailed, "rendering")
		return
	}

	pages := make([]book.CapturedPage, 0, len(images))
	for i, img := range images {
		path, err := w.store.WritePageImage(job.BookID, i, i+1, img)
		if err != nil {
			log.Error("page image write failed", "page", i+1, "error", err)
			job.AddError(fmt.Sprintf("write page %d: %s", i+1, err))
			job.SetStatus(StatusFailed, "rendering")
			return
		}
		pages = append(pages, book.CapturedPage{
			CaptureIndex: i,
			PageNumber:   i + 1,
			ImagePath:    path,
			TotalPages:   len(images),
		})
		job.PageCaptured(len(images))
	}
	md := book.Metadata{Meta: meta, Toc: res.Toc, Pages: pages}
	if err := w.store.WriteMetadata(job.BookID, md); err != nil {
		log.Error("metadata write failed", "error", err)
		job.AddError(fmt.Sprintf("write metadata: %s", err))
		job.SetStatus(StatusFailed, "rendering")
		return
	}

	chunks, failed, err := w.recognize(ctx, job, pages, log)
	if err != nil {
		log.Error("recognition failed", "error", err)
		job.AddError(fmt.Sprintf("recognition: %s", err))
		job.SetStatus(StatusFailed, "recognizing")
		return
	}
	hadErrors := false
	if failed > 0 {
		job.AddError(fmt.Sprintf("%d pages failed recognition", failed))
		hadErrors = true
	}
	if len(chunks) == 0 {
		job.AddError("no recognized content")
		job.SetStatus(StatusFailed, "recognizing")
		return
	}

	w.assembleAndFinish(job, meta, res.Toc, chunks, hadErrors, log)
}

// recognize fans the pages out to the recognition pipeline with the
// configured bounds.
func (w *Worker) recognize(ctx context.Context, job *Job, pages []book.CapturedPage, log *slog.Logger) ([]book.ContentChunk, int, error) {
	job.SetStatus(StatusRecognizing, "recognizing")
	pipe := transcribe.NewPipeline(w.rec, w.store, log, transcribe.Options{
		Concurrency:   w.cfg.OCRConcurrency,
		MaxRetries:    w.cfg.OCRMaxRetries,
		BackoffBase:   w.cfg.OCRBackoffBase,
		BackoffCap:    w.cfg.OCRBackoffCap,
		EscalateAfter: w.cfg.OCREscalateAfter,
		RateLimit:     w.cfg.OCRRateLimit,
		RateBurst:     w.cfg.OCRRateBurst,
		OnResult:      job.PageRecognized,
	})
	return pipe.Run(ctx, job.BookID, pages)
}

// assembleAndFinish builds the final document and settles the job
// status: partial when some pages were lost along the way, completed
// otherwise.
func (w *Worker) assembleAndFinish(job *Job, meta book.Meta, toc []book.TocEntry, chunks []book.ContentChunk, hadErrors bool, log *slog.Logger) {
	job.SetStatus(StatusAssembling, "assembling")
	doc := assemble.Assemble(meta, toc, chunks, log)
	if err := w.store.WriteDocument(job.BookID, assemble.Render(doc)); err != nil {
		log.Error("document write failed", "error", err)
		job.AddError(fmt.Sprintf("write document: %s", err))
		job.SetStatus(StatusFailed, "assembling")
		return
	}
	log.Info("document assembled", "sections", len(doc.Sections), "chunks", len(chunks))

	if hadErrors {
		job.SetStatus(StatusPartial, "done")
	} else {
		job.SetStatus(StatusCompleted, "done")
	}
}

// loadMetadata reads the capture-stage artifact, regenerating it from
// the pages directory when only the images survived.
func (w *Worker) loadMetadata(bookID string, log *slog.Logger) (book.Metadata, error) {
	md, err := w.store.ReadMetadata(bookID)
	if err == nil {
		if len(md.Pages) == 0 {
			return md, fmt.Errorf("metadata lists no pages")
		}
		return md, nil
	}
	if !store.IsNotExist(err) {
		return md, err
	}

	log.Warn("metadata missing, regenerating from page images", "book_id", bookID)
	pages, err := w.store.ListPageImages(bookID)
	if err != nil {
		return md, err
	}
	if len(pages) == 0 {
		return md, fmt.Errorf("no page images found")
	}
	md = book.Metadata{
		Meta:  book.Meta{Title: bookID, Authors: []string{}},
		Pages: pages,
	}
	if err := w.store.WriteMetadata(bookID, md); err != nil {
		log.Warn("regenerated metadata write failed", "error", err)
	}
	return md, nil
}

// importPages synthesizes page records for chunks that never had a
// page image, so listings stay uniform across sources.
func importPages(chunks []book.ContentChunk) []book.CapturedPage {
	pages := make([]book.CapturedPage, len(chunks))
	for i, c := range chunks {
		pages[i] = book.CapturedPage{
			CaptureIndex: c.CaptureIndex,
			PageNumber:   c.PageNumber,
			TotalPages:   len(chunks),
		}
	}
	return pages
}

// metadataTotal derives the best known page total from a persisted
// metadata file.
func metadataTotal(md book.Metadata) int {
	n := len(md.Pages)
	if n == 0 {
		return 0
	}
	last := md.Pages[n-1]
	if last.TotalPages > 0 {
		return last.TotalPages
	}
	if last.PageNumber > 0 {
		return last.PageNumber
	}
	return n
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
