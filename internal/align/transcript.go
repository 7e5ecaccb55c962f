package align

import (
	"regexp"
	"strings"

	"github.com/franz/speech-corpus/internal/corpus"
)

// Default pause lengths, in seconds, that become punctuation
const (
	DefaultCommaPause  = 0.15
	DefaultPeriodPause = 0.3
)

var (
	repeatedPunct  = regexp.MustCompile(`[,.]{2,}`)
	repeatedSpaces = regexp.MustCompile(`\s{2,}`)
)

// Transcript rebuilds punctuated text from aligned words. A silence longer
// than period becomes a full stop, one longer than comma becomes a comma.
// A leading silence is ignored.
func Transcript(intervals []corpus.Interval, comma, period float64) string {
	var b strings.Builder
	for i, iv := range intervals {
		if iv.Text == "" {
			if i == 0 {
				continue
			}
			switch {
			case iv.Duration > period:
				b.WriteString(". ")
			case iv.Duration > comma:
				b.WriteString(", ")
			}
			continue
		}
		b.WriteString(iv.Text)
		b.WriteByte(' ')
	}

	text := strings.TrimSpace(b.String()) + "."
	text = repeatedPunct.ReplaceAllString(text, ".")
	text = repeatedSpaces.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, " .", ".")
	return strings.ReplaceAll(text, " ,", ",")
}
