package viewer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"pageturner/internal/book"
)

const (
	evalTimeout  = 10 * time.Second
	pollInterval = 250 * time.Millisecond
)

// BookReader drives an Internet Archive BookReader embed through a
// browser page. The reader's `br` object may live in the top window or
// in a nested iframe; framePath records where it was found and every
// script is evaluated against that window.
//
// The held context is the chromedp page context created at Acquire
// time; it derives from the run context, so cancelling the run tears
// the whole browser session down.
type BookReader struct {
	ctx         context.Context
	framePath   []int
	loadTimeout time.Duration
	log         *slog.Logger
}

// frameExpr builds the JS expression for a window reached by the given
// child-frame path, e.g. [] -> "window", [0 2] -> "window.frames[0].frames[2]".
func frameExpr(path []int) string {
	var b strings.Builder
	b.WriteString("window")
	for _, i := range path {
		fmt.Fprintf(&b, ".frames[%d]", i)
	}
	return b.String()
}

func (b *BookReader) js(snippet string) string {
	return strings.ReplaceAll(snippet, "__WIN__", frameExpr(b.framePath))
}

func (b *BookReader) eval(ctx context.Context, js string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(b.ctx, evalTimeout)
	defer cancel()
	return chromedp.Run(tctx, chromedp.Evaluate(js, out))
}

const jsFindReader = `(() => {
	const probe = (w, path) => {
		try {
			if (typeof w.br !== 'undefined' && w.br) return path;
		} catch (e) {}
		try {
			for (let i = 0; i < w.frames.length; i++) {
				const hit = probe(w.frames[i], path.concat(i));
				if (hit) return hit;
			}
		} catch (e) {}
		return null;
	};
	const hit = probe(window, []);
	return {found: hit !== null, path: hit || []};
})()`

// findReader polls the page and all child frames until the reader
// object shows up or the deadline passes.
func (b *BookReader) findReader(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var res struct {
			Found bool  `json:"found"`
			Path  []int `json:"path"`
		}
		if err := b.eval(ctx, jsFindReader, &res); err != nil {
			b.log.Debug("reader probe failed", "error", err)
		} else if res.Found {
			b.framePath = res.Path
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrReaderNotFound, timeout)
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

const jsObserve = `(() => {
	const w = __WIN__;
	const br = w.br;
	const out = {page: 0, total: 0, sig: '', title: '', author: ''};
	try { if (typeof br.currentIndex === 'function') out.page = br.currentIndex() + 1; } catch (e) {}
	try { if (typeof br.getNumLeafs === 'function') out.total = br.getNumLeafs(); } catch (e) {}
	try {
		const imgs = w.document.querySelectorAll('.BRpageimage, .BRpagecontainer img');
		out.sig = Array.from(imgs).map((i) => i.currentSrc || i.src || '').join('|');
	} catch (e) {}
	try { out.title = String(br.bookTitle || (br.options && br.options.bookTitle) || ''); } catch (e) {}
	try {
		const md = (br.options && br.options.metadata) || [];
		const a = md.find((m) => /^author/i.test(m.label || ''));
		if (a) out.author = String(a.value || '');
	} catch (e) {}
	return out;
})()`

func (b *BookReader) Observe(ctx context.Context) (Observation, error) {
	var res struct {
		Page   int    `json:"page"`
		Total  int    `json:"total"`
		Sig    string `json:"sig"`
		Title  string `json:"title"`
		Author string `json:"author"`
	}
	if err := b.eval(ctx, b.js(jsObserve), &res); err != nil {
		return Observation{}, fmt.Errorf("observe reader: %w", err)
	}
	return Observation{
		PageNumber: res.Page,
		TotalPages: res.Total,
		Signature:  res.Sig,
		Title:      res.Title,
		Author:     res.Author,
	}, nil
}

const jsToc = `(() => {
	const w = __WIN__;
	const entries = [];
	try {
		const toc = w.br && w.br.options && w.br.options.table_of_contents;
		if (Array.isArray(toc)) {
			for (const e of toc) {
				entries.push({title: String(e.title || e.label || ''), page: Number(e.pagenum) || 0});
			}
		}
	} catch (e) {}
	return entries;
})()`

func (b *BookReader) Toc(ctx context.Context) ([]book.TocEntry, error) {
	var rows []struct {
		Title string `json:"title"`
		Page  int    `json:"page"`
	}
	if err := b.eval(ctx, b.js(jsToc), &rows); err != nil {
		return nil, fmt.Errorf("read toc: %w", err)
	}
	entries := make([]book.TocEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, book.TocEntry{Title: r.Title, StartPage: r.Page})
	}
	return entries, nil
}

const jsNext = `(() => {
	const br = __WIN__.br;
	if (br && typeof br.next === 'function') { br.next(); return true; }
	return false;
})()`

func (b *BookReader) Next(ctx context.Context) (bool, error) {
	var ok bool
	if err := b.eval(ctx, b.js(jsNext), &ok); err != nil {
		return false, fmt.Errorf("native next: %w", err)
	}
	return ok, nil
}

const jsClickNext = `(() => {
	const w = __WIN__;
	const sels = ['.BRicon.book_right', '.BRnext', 'button[title="Flip right"]', '.book_flip_next'];
	for (const s of sels) {
		try {
			const el = w.document.querySelector(s);
			if (el && el.offsetParent !== null) { el.click(); return s; }
		} catch (e) {}
	}
	return '';
})()`

func (b *BookReader) ClickNext(ctx context.Context) (bool, error) {
	var sel string
	if err := b.eval(ctx, b.js(jsClickNext), &sel); err != nil {
		return false, fmt.Errorf("click next control: %w", err)
	}
	if sel != "" {
		b.log.Debug("clicked next control", "selector", sel)
	}
	return sel != "", nil
}

func (b *BookReader) PressNextKey(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(b.ctx, evalTimeout)
	defer cancel()
	if err := chromedp.Run(tctx, chromedp.KeyEvent(kb.ArrowRight)); err != nil {
		return fmt.Errorf("arrow key press: %w", err)
	}
	return nil
}

const jsJump = `(() => {
	const br = __WIN__.br;
	if (br && typeof br.jumpToIndex === 'function') { br.jumpToIndex(%d); return true; }
	if (br && typeof br.jumpToPage === 'function') { br.jumpToPage(%d); return true; }
	return false;
})()`

func (b *BookReader) JumpToPage(ctx context.Context, pageNum int) error {
	if pageNum < 1 {
		pageNum = 1
	}
	var ok bool
	js := fmt.Sprintf(b.js(jsJump), pageNum-1, pageNum)
	if err := b.eval(ctx, js, &ok); err != nil {
		return fmt.Errorf("jump to page %d: %w", pageNum, err)
	}
	if !ok {
		b.log.Warn("reader exposes no jump call, keeping current position", "page", pageNum)
	}
	return nil
}

const jsSpinnerGone = `(() => {
	const w = __WIN__;
	const el = w.document.querySelector('.BRprogresspopup, .loading, .BRloading');
	if (!el) return true;
	const cs = w.getComputedStyle(el);
	return cs.display === 'none' || cs.visibility === 'hidden' || el.offsetParent === null;
})()`

const jsImagesComplete = `(() => {
	const w = __WIN__;
	const imgs = w.document.querySelectorAll('.BRpageimage, .BRpagecontainer img');
	for (const img of imgs) {
		if (img.tagName === 'IMG' && !img.complete) return false;
	}
	return true;
})()`

// WaitReady waits for the loading indicator to clear and the visible
// page images to finish loading. Stale spinners are common, so both
// waits give up after the load timeout and proceed.
func (b *BookReader) WaitReady(ctx context.Context) error {
	if ok, err := b.pollTrue(ctx, b.js(jsSpinnerGone)); err != nil {
		return err
	} else if !ok {
		b.log.Warn("loading indicator still visible, proceeding")
	}
	if ok, err := b.pollTrue(ctx, b.js(jsImagesComplete)); err != nil {
		return err
	} else if !ok {
		b.log.Warn("page images still loading, proceeding")
	}
	return nil
}

// pollTrue re-evaluates js until it returns true or the load timeout
// passes. Only cancellation is an error.
func (b *BookReader) pollTrue(ctx context.Context, js string) (bool, error) {
	deadline := time.Now().Add(b.loadTimeout)
	for {
		var ok bool
		if err := b.eval(ctx, js, &ok); err == nil && ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

const jsReaderRect = `(() => {
	let w = __WIN__;
	const el = w.document.querySelector('#BookReader, .BookReader, .BRcontainer');
	if (!el) return {ok: false, x: 0, y: 0, width: 0, height: 0};
	const r = el.getBoundingClientRect();
	let x = r.left, y = r.top;
	while (w !== window) {
		const fe = w.frameElement;
		if (!fe) break;
		const fr = fe.getBoundingClientRect();
		x += fr.left;
		y += fr.top;
		w = w.parent;
	}
	return {ok: true, x: x, y: y, width: r.width, height: r.height};
})()`

// CaptureImage screenshots the reader's inner content region. The
// rect is translated into top-viewport coordinates by walking the
// frame chain, then clipped out of a full-page screenshot.
func (b *BookReader) CaptureImage(ctx context.Context) ([]byte, error) {
	var rect struct {
		OK     bool    `json:"ok"`
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := b.eval(ctx, b.js(jsReaderRect), &rect); err != nil {
		return nil, fmt.Errorf("locate reader region: %w", err)
	}
	if !rect.OK || rect.Width <= 0 || rect.Height <= 0 {
		return nil, fmt.Errorf("reader content region not visible")
	}

	tctx, cancel := context.WithTimeout(b.ctx, evalTimeout)
	defer cancel()
	var buf []byte
	err := chromedp.Run(tctx, chromedp.ActionFunc(func(ctx context.Context) error {
		img, err := page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithClip(&page.Viewport{
				X:      rect.X,
				Y:      rect.Y,
				Width:  rect.Width,
				Height: rect.Height,
				Scale:  1,
			}).
			Do(ctx)
		if err != nil {
			return err
		}
		buf = img
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

const jsBorrow = `(() => {
	const scan = (doc) => {
		try {
			const els = doc.querySelectorAll('button, a, input[type="submit"]');
			for (const el of els) {
				const t = (el.innerText || el.textContent || el.value || '').trim();
				if (/\bborrow\b/i.test(t) && t.length < 40) { el.click(); return t; }
			}
		} catch (e) {}
		return '';
	};
	return scan(document) || scan(__WIN__.document);
})()`

// TryBorrow looks for a borrow/access control in the top document and
// the reader frame and clicks the first match. Readers silently
// re-lock loans, so the capture loop retries this between stalled
// advance attempts.
func (b *BookReader) TryBorrow(ctx context.Context) (bool, error) {
	var label string
	if err := b.eval(ctx, b.js(jsBorrow), &label); err != nil {
		return false, fmt.Errorf("borrow control: %w", err)
	}
	if label != "" {
		b.log.Info("clicked borrow control", "label", label)
	}
	return label != "", nil
}
