package assemble

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"pageturner/internal/book"
)

var (
	slugStripRe    = regexp.MustCompile(`[^a-z0-9-]`)
	slugCollapseRe = regexp.MustCompile(`-+`)
	paragraphRe    = regexp.MustCompile(`\n{2,}`)
)

// Assemble merges ordered chunks with a table of contents into one
// document. Single pass; the chunk cursor only ever moves forward.
// The last TOC entry bounds the one before it and gets no section of
// its own; entries without a start page are skipped without consuming
// any chunks.
func Assemble(meta book.Meta, toc []book.TocEntry, chunks []book.ContentChunk, log *slog.Logger) book.Document {
	doc := book.Document{
		Title:    strings.TrimSpace(meta.Title),
		Authors:  meta.Authors,
		Sections: []book.Section{},
	}
	if doc.Title == "" {
		doc.Title = "Untitled"
	}
	if doc.Authors == nil {
		doc.Authors = []string{}
	}

	entries := toc
	if !usable(entries) {
		entries = synthesizeToc(chunks)
	}

	index := 0
	seen := make(map[string]int)
	for i := 0; i < len(entries)-1; i++ {
		entry := entries[i]
		if entry.StartPage <= 0 {
			log.Warn("toc entry has no start page, skipping",
				"section", entry.Title)
			continue
		}
		boundary := len(chunks)
		if next := nextStartPage(entries, i); next > 0 {
			boundary = firstChunkAtOrAfter(chunks, next)
		}
		if boundary < index {
			log.Warn("toc out of order, clamping section boundary",
				"section", entry.Title, "boundary", boundary, "cursor", index)
			boundary = index
		}
		doc.Sections = append(doc.Sections, book.Section{
			Title:  entry.Title,
			Anchor: uniqueAnchor(seen, Slugify(entry.Title)),
			Text:   joinChunks(chunks[index:boundary]),
		})
		index = boundary
	}
	return doc
}

// usable needs at least two entries and a defined start page among
// the sectioning entries.
func usable(toc []book.TocEntry) bool {
	if len(toc) < 2 {
		return false
	}
	for _, e := range toc[:len(toc)-1] {
		if e.StartPage > 0 {
			return true
		}
	}
	return false
}

func synthesizeToc(chunks []book.ContentChunk) []book.TocEntry {
	maxPage := 0
	for _, c := range chunks {
		if c.PageNumber > maxPage {
			maxPage = c.PageNumber
		}
	}
	return []book.TocEntry{
		{Title: "Content", StartPage: 1},
		{Title: "End", StartPage: maxPage + 1},
	}
}

func nextStartPage(entries []book.TocEntry, i int) int {
	for _, e := range entries[i+1:] {
		if e.StartPage > 0 {
			return e.StartPage
		}
	}
	return 0
}

func firstChunkAtOrAfter(chunks []book.ContentChunk, page int) int {
	for i, c := range chunks {
		if c.PageNumber >= page {
			return i
		}
	}
	return len(chunks)
}

func uniqueAnchor(seen map[string]int, anchor string) string {
	if anchor == "" {
		anchor = "section"
	}
	seen[anchor]++
	if n := seen[anchor]; n > 1 {
		return fmt.Sprintf("%s-%d", anchor, n)
	}
	return anchor
}

// FoldParagraphs strips carriage returns, folds single newlines into
// spaces, and keeps runs of blank lines as one paragraph break.
func FoldParagraphs(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	paras := paragraphRe.Split(s, -1)
	out := make([]string, 0, len(paras))
	for _, p := range paras {
		p = strings.TrimSpace(strings.ReplaceAll(p, "\n", " "))
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

func joinChunks(chunks []book.ContentChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := FoldParagraphs(c.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Slugify converts a title to an anchor-safe slug.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugStripRe.ReplaceAllString(s, "-")
	s = slugCollapseRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = strings.Trim(s[:50], "-")
	}
	return s
}
