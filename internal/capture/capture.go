package capture

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"pageturner/internal/book"
	"pageturner/internal/store"
	"pageturner/internal/viewer"
)

// Config holds the knobs for one capture run.
type Config struct {
	StartPage       int           // 1-based override; 0 starts at page 1
	Resume          bool          // keep the reader's own resume position
	MaxPages        int           // 0 means no cap
	MaxRetries      int           // whole-chain advance attempts before giving up
	StabilityWindow time.Duration // quiet time after the reader looks idle
	PageDelay       time.Duration // extra settle before each capture

	// OnPage, when set, is called after each page is persisted.
	OnPage func(book.CapturedPage)
}

// Result summarizes one capture run.
type Result struct {
	Meta       book.Meta
	Toc        []book.TocEntry
	Pages      []book.CapturedPage
	TotalPages int
	Stagnated  bool
}

// Runner walks the reader forward one spread at a time. The loop
// captures before advancing and advances exactly once per iteration;
// a persisted page is never discarded. Strictly sequential, because
// the reader has a single cursor.
type Runner struct {
	sess  viewer.Session
	store *store.Store
	log   *slog.Logger
	cfg   Config
}

func New(sess viewer.Session, st *store.Store, log *slog.Logger, cfg Config) *Runner {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	return &Runner{sess: sess, store: st, log: log, cfg: cfg}
}

// Run captures the document for bookID until the reported total is
// reached, the page cap is hit, or the reader stagnates. Pages
// captured before a cancellation are already persisted and stay valid.
func (r *Runner) Run(ctx context.Context, bookID string) (Result, error) {
	var res Result

	obs, err := r.sess.Observe(ctx)
	if err != nil {
		return res, err
	}
	res.Meta = metaFrom(obs)
	if toc, err := r.sess.Toc(ctx); err != nil {
		r.log.Warn("toc unavailable", "error", err)
	} else if len(toc) > 0 {
		// The assembler treats the last entry as a boundary with no
		// content of its own, so the real chapters need a terminator.
		res.Toc = append(toc, book.TocEntry{Title: "End"})
	}

	if err := r.position(ctx); err != nil {
		return res, err
	}

	var lastHash string
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.settle(ctx); err != nil {
			return res, err
		}

		obs, err = r.sess.Observe(ctx)
		if err != nil {
			return res, err
		}
		img, err := r.sess.CaptureImage(ctx)
		if err != nil {
			return res, err
		}
		hash := store.HashHex(img)

		// A frame identical to the previous capture usually means the
		// reader lagged behind the last advance. Advance once more,
		// recapture once, then accept whatever comes back.
		if len(res.Pages) > 0 && hash == lastHash {
			r.log.Warn("duplicate frame hash, advancing once and recapturing",
				"capture_index", len(res.Pages), "page", obs.PageNumber)
			if _, _, err := r.tryAdvanceOnce(ctx, obs); err != nil {
				return res, err
			}
			obs, err = r.sess.Observe(ctx)
			if err != nil {
				return res, err
			}
			img, err = r.sess.CaptureImage(ctx)
			if err != nil {
				return res, err
			}
			hash = store.HashHex(img)
		}

		idx := len(res.Pages)
		path, err := r.store.WritePageImage(bookID, idx, obs.PageNumber, img)
		if err != nil {
			return res, err
		}
		pg := book.CapturedPage{
			CaptureIndex: idx,
			PageNumber:   obs.PageNumber,
			ImagePath:    path,
			TotalPages:   obs.TotalPages,
		}
		res.Pages = append(res.Pages, pg)
		lastHash = hash
		r.writeMetadata(bookID, &res)
		r.log.Info("captured page",
			"capture_index", idx, "page", obs.PageNumber, "total", obs.TotalPages)
		if r.cfg.OnPage != nil {
			r.cfg.OnPage(pg)
		}

		if r.reachedEnd(len(res.Pages), obs) {
			break
		}

		advanced, err := r.advance(ctx, obs)
		if err != nil {
			return res, err
		}
		if !advanced {
			r.log.Warn("reader stagnated, stopping early",
				"captured", len(res.Pages), "attempts", r.cfg.MaxRetries)
			res.Stagnated = true
			break
		}
	}

	res.TotalPages = deriveTotal(res.Pages, res.Stagnated)
	for i := range res.Toc {
		res.Toc[i].TotalPages = res.TotalPages
	}
	r.writeMetadata(bookID, &res)
	return res, nil
}

// position suppresses the reader's own resume-to-last-position
// behavior unless asked to keep it, jumping to the configured start
// page instead.
func (r *Runner) position(ctx context.Context) error {
	if r.cfg.Resume && r.cfg.StartPage <= 0 {
		return nil
	}
	start := r.cfg.StartPage
	if start <= 0 {
		start = 1
	}
	r.log.Info("positioning reader", "start_page", start)
	return r.sess.JumpToPage(ctx, start)
}

// settle runs the capture-readiness gates in order: reader idle,
// stability window, settle delay.
func (r *Runner) settle(ctx context.Context) error {
	if err := r.sess.WaitReady(ctx); err != nil {
		return err
	}
	if err := sleepCtx(ctx, r.cfg.StabilityWindow); err != nil {
		return err
	}
	return sleepCtx(ctx, r.cfg.PageDelay)
}

func (r *Runner) reachedEnd(captured int, obs viewer.Observation) bool {
	if r.cfg.MaxPages > 0 && captured >= r.cfg.MaxPages {
		r.log.Info("page cap reached", "max_pages", r.cfg.MaxPages)
		return true
	}
	if obs.TotalPages > 0 && obs.PageNumber >= obs.TotalPages {
		r.log.Info("last reported page reached", "page", obs.PageNumber, "total", obs.TotalPages)
		return true
	}
	return false
}

// errNoAffordance marks a strategy that had nothing to act on, as
// opposed to one that fired and changed nothing.
var errNoAffordance = errors.New("affordance not present")

type advanceStrategy struct {
	name string
	fire func(context.Context) error
}

func (r *Runner) strategies() []advanceStrategy {
	return []advanceStrategy{
		{"native-next", func(ctx context.Context) error {
			ok, err := r.sess.Next(ctx)
			if err == nil && !ok {
				return errNoAffordance
			}
			return err
		}},
		{"click-next", func(ctx context.Context) error {
			ok, err := r.sess.ClickNext(ctx)
			if err == nil && !ok {
				return errNoAffordance
			}
			return err
		}},
		{"arrow-key", func(ctx context.Context) error {
			return r.sess.PressNextKey(ctx)
		}},
	}
}

// tryAdvanceOnce runs the escalation chain once: fire a strategy,
// wait for stability, observe, stop at the first detected change.
func (r *Runner) tryAdvanceOnce(ctx context.Context, prev viewer.Observation) (viewer.Observation, bool, error) {
	curr := prev
	for _, st := range r.strategies() {
		if err := ctx.Err(); err != nil {
			return curr, false, err
		}
		if err := st.fire(ctx); err != nil {
			if ctx.Err() != nil {
				return curr, false, ctx.Err()
			}
			if errors.Is(err, errNoAffordance) {
				r.log.Debug("advance strategy not available", "strategy", st.name)
			} else {
				r.log.Debug("advance strategy failed", "strategy", st.name, "error", err)
			}
			continue
		}
		if err := r.sess.WaitReady(ctx); err != nil {
			return curr, false, err
		}
		if err := sleepCtx(ctx, r.cfg.StabilityWindow); err != nil {
			return curr, false, err
		}
		obs, err := r.sess.Observe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return curr, false, ctx.Err()
			}
			r.log.Debug("observe failed after advance", "strategy", st.name, "error", err)
			continue
		}
		curr = obs
		if viewer.Advanced(prev, obs) {
			return obs, true, nil
		}
	}
	return curr, false, nil
}

// advance moves the reader forward one spread, retrying the whole
// strategy chain up to the configured bound. Between stalled attempts
// it also pokes any borrow affordance, since readers quietly re-lock
// loans mid-session. Returns false once the bound is exhausted with
// no detectable change.
func (r *Runner) advance(ctx context.Context, prev viewer.Observation) (bool, error) {
	for attempt := 1; ; attempt++ {
		_, ok, err := r.tryAdvanceOnce(ctx, prev)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if attempt >= r.cfg.MaxRetries {
			return false, nil
		}
		r.log.Warn("no page change after advance attempt",
			"attempt", attempt, "max_retries", r.cfg.MaxRetries, "page", prev.PageNumber)
		clicked, err := r.sess.TryBorrow(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			r.log.Debug("borrow probe failed", "error", err)
		} else if clicked {
			if err := r.sess.WaitReady(ctx); err != nil {
				return false, err
			}
		}
	}
}

func (r *Runner) writeMetadata(bookID string, res *Result) {
	md := book.Metadata{Meta: res.Meta, Toc: res.Toc, Pages: res.Pages}
	if err := r.store.WriteMetadata(bookID, md); err != nil {
		r.log.Warn("metadata write failed", "error", err)
	}
}

// deriveTotal picks the document total for the run. After a clean end
// the reader-reported total stands; after stagnation it was never
// reached, so the last captured page's number is used, then the
// capture count.
func deriveTotal(pages []book.CapturedPage, stagnated bool) int {
	if len(pages) == 0 {
		return 0
	}
	last := pages[len(pages)-1]
	if !stagnated && last.TotalPages > 0 {
		return last.TotalPages
	}
	if last.PageNumber > 0 {
		return last.PageNumber
	}
	return len(pages)
}

func metaFrom(obs viewer.Observation) book.Meta {
	m := book.Meta{Title: obs.Title, Authors: []string{}}
	for _, a := range strings.Split(obs.Author, ";") {
		if a = strings.TrimSpace(a); a != "" {
			m.Authors = append(m.Authors, a)
		}
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
