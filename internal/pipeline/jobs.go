package pipeline

import (
	"sync"
	"time"
)

// JobKind says where a book's pages come from.
type JobKind string

const (
	KindCapture JobKind = "capture" // drive a remote reader in a browser
	KindImport  JobKind = "import"  // uploaded file
)

// Stage names a pipeline stage a capture job can start from. Each
// stage trusts only its predecessor's durable artifact, so a job can
// be resumed at any stage boundary against the same book directory.
type Stage string

const (
	StageCapture    Stage = "capture"
	StageTranscribe Stage = "transcribe"
	StageAssemble   Stage = "assemble"
)

// ValidStage reports whether s names a known resume stage.
func ValidStage(s Stage) bool {
	switch s {
	case StageCapture, StageTranscribe, StageAssemble:
		return true
	}
	return false
}

// JobStatus represents the state of a conversion job.
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusLoading     JobStatus = "loading"
	StatusCapturing   JobStatus = "capturing"
	StatusRecognizing JobStatus = "recognizing"
	StatusAssembling  JobStatus = "assembling"
	StatusCompleted   JobStatus = "completed"
	StatusPartial     JobStatus = "partial"
	StatusFailed      JobStatus = "failed"
)

// Job tracks the state of a single book conversion.
type Job struct {
	mu sync.Mutex

	ID     string  `json:"job_id"`
	BookID string  `json:"book_id"`
	Kind   JobKind `json:"kind"`

	URL      string `json:"url,omitempty"`      // capture jobs
	Filename string `json:"filename,omitempty"` // import jobs
	Title    string `json:"title,omitempty"`

	StartStage Stage  `json:"start_stage,omitempty"`
	OCRMode    string `json:"ocr_mode,omitempty"` // import jobs: auto, force, off
	StartPage  int    `json:"start_page,omitempty"`
	MaxPages   int    `json:"max_pages,omitempty"`

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData []byte
	errors   []string
}

// Progress tracks per-stage page counts.
type Progress struct {
	PagesCaptured   int      `json:"pages_captured"`
	TotalPages      int      `json:"total_pages"`
	PagesRecognized int      `json:"pages_recognized"`
	PagesFailed     int      `json:"pages_failed"`
	Errors          []string `json:"errors"`
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// PageCaptured records one persisted page and the reader's current
// total, which can grow as the run discovers it.
func (j *Job) PageCaptured(total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.PagesCaptured++
	if total > j.Progress.TotalPages {
		j.Progress.TotalPages = total
	}
	j.UpdatedAt = time.Now()
}

// PageRecognized records one recognition outcome.
func (j *Job) PageRecognized(ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if ok {
		j.Progress.PagesRecognized++
	} else {
		j.Progress.PagesFailed++
	}
	j.UpdatedAt = time.Now()
}

// SetTotalPages records the final page count for the book.
func (j *Job) SetTotalPages(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalPages = n
	j.UpdatedAt = time.Now()
}

// SetFileData sets the raw upload bytes for an import job.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw upload bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID       string    `json:"job_id"`
	BookID   string    `json:"book_id"`
	Kind     JobKind   `json:"kind"`
	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	URL      string    `json:"url,omitempty"`
	Filename string    `json:"filename,omitempty"`
	Title    string    `json:"title,omitempty"`
	Progress Progress  `json:"progress"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := j.Progress.Errors
	if errs == nil {
		errs = []string{}
	}
	return JobSnapshot{
		ID:       j.ID,
		BookID:   j.BookID,
		Kind:     j.Kind,
		Status:   j.Status,
		Phase:    j.Phase,
		URL:      j.URL,
		Filename: j.Filename,
		Title:    j.Title,
		Progress: Progress{
			PagesCaptured:   j.Progress.PagesCaptured,
			TotalPages:      j.Progress.TotalPages,
			PagesRecognized: j.Progress.PagesRecognized,
			PagesFailed:     j.Progress.PagesFailed,
			Errors:          errs,
		},
	}
}
