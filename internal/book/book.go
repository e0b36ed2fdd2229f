package book

// Meta is the document identity reported by the reader or supplied by
// the caller.
type Meta struct {
	Title   string   `json:"title"`
	Authors []string `json:"authorList"`
}

// CapturedPage records one screenshot taken from the reader. The
// capture index is assigned in capture order and is the only reliable
// ordering; the page number is whatever the reader reported at the
// time and may repeat across spreads.
type CapturedPage struct {
	CaptureIndex int    `json:"captureIndex"`
	PageNumber   int    `json:"pageNumber"`
	ImagePath    string `json:"imagePath"`
	TotalPages   int    `json:"totalPagesAtCapture"`
}

// ContentChunk is the transcribed text of one captured page. Pages
// whose recognition permanently failed have no chunk at all.
type ContentChunk struct {
	CaptureIndex int    `json:"captureIndex"`
	PageNumber   int    `json:"pageNumber"`
	Text         string `json:"recognizedText"`
	ImagePath    string `json:"sourceImagePath"`
}

// TocEntry is one table-of-contents row. StartPage 0 means the reader
// gave no page for it. The last entry conventionally marks the end
// boundary and gets no content of its own.
type TocEntry struct {
	Title      string `json:"title"`
	StartPage  int    `json:"startPage"`
	TotalPages int    `json:"totalPages,omitempty"`
}

// Metadata is the durable capture-stage artifact, rewritten after
// every captured page so an interrupted run can resume downstream.
type Metadata struct {
	Meta  Meta           `json:"meta"`
	Toc   []TocEntry     `json:"toc"`
	Pages []CapturedPage `json:"pages"`
}

// Section is one assembled span of the final document.
type Section struct {
	Title  string `json:"title"`
	Anchor string `json:"anchor"`
	Text   string `json:"text"`
}

// Document is the final assembled artifact. Written once, never
// mutated after.
type Document struct {
	Title    string    `json:"title"`
	Authors  []string  `json:"authorList"`
	Sections []Section `json:"sections"`
}
