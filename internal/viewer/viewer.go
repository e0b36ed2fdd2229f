package viewer

import (
	"context"
	"errors"

	"pageturner/internal/book"
)

// Observation is a point-in-time snapshot of the remote reader.
// Recomputed on demand, never persisted.
type Observation struct {
	PageNumber int    // 1-based; 0 when the reader reports none
	TotalPages int    // 0 when unknown
	Signature  string // joined sources of the currently visible page images
	Title      string
	Author     string
}

// Advanced reports whether the reader moved between two observations.
// Page-number reporting is unreliable on some reader builds, so a
// signature change alone counts as movement.
func Advanced(prev, curr Observation) bool {
	return curr.PageNumber != prev.PageNumber || curr.Signature != prev.Signature
}

// ErrReaderNotFound means no reader surface turned up in the page or
// any of its frames before the discovery timeout. Fatal for the run.
var ErrReaderNotFound = errors.New("reader surface not found")

// Session is one live connection to a remote reader. The capture loop
// is the only consumer and calls methods sequentially; implementations
// own the underlying automation handle.
type Session interface {
	// Observe queries the live reader state.
	Observe(ctx context.Context) (Observation, error)
	// Toc reads the reader's table of contents, if it exposes one.
	Toc(ctx context.Context) ([]book.TocEntry, error)
	// Next invokes the reader's own page-forward call. ok is false
	// when the reader exposes none.
	Next(ctx context.Context) (ok bool, err error)
	// ClickNext clicks the first visible next-page control. ok is
	// false when no known control is present.
	ClickNext(ctx context.Context) (ok bool, err error)
	// PressNextKey sends a forward arrow key press to the page.
	PressNextKey(ctx context.Context) error
	// JumpToPage forces the reader to a 1-based page.
	JumpToPage(ctx context.Context, page int) error
	// WaitReady blocks until the reader looks idle: loading indicator
	// gone and visible images finished. Both waits are bounded and
	// proceed optimistically on timeout; only cancellation is an error.
	WaitReady(ctx context.Context) error
	// CaptureImage screenshots the reader content region only,
	// excluding surrounding chrome.
	CaptureImage(ctx context.Context) ([]byte, error)
	// TryBorrow clicks a borrow/access affordance if one is present.
	TryBorrow(ctx context.Context) (bool, error)
}
