package transcribe

import (
	"regexp"
	"strings"
)

var (
	pageNumberRe = regexp.MustCompile(`^\d{1,4}$`)
	refusalRe    = regexp.MustCompile(`(?i)\b(i'?m sorry|i apologi[sz]e|i can'?t|i cannot|unable to|i won'?t)\b`)
)

// Clean normalizes a raw transcription: unix newlines, trailing
// whitespace stripped, and a leading line that is just a page-number
// header dropped. A response that is only a bare number is kept, since
// that is the whole page content.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.TrimSpace(strings.Join(lines, "\n"))
	if i := strings.IndexByte(s, '\n'); i >= 0 && pageNumberRe.MatchString(s[:i]) {
		s = strings.TrimSpace(s[i+1:])
	}
	return s
}

// IsRefusal reports whether a short response reads as the model
// declining rather than transcribing. Long responses are never
// refusals; books contain these phrases too.
func IsRefusal(s string) bool {
	if s == "" || len(s) > 200 {
		return false
	}
	return refusalRe.MatchString(s)
}
