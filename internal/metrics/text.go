package metrics

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// normalize applies NFC and collapses runs of whitespace
func normalize(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

// WER is the word error rate of hypothesis against reference: word-level
// edit distance divided by the number of reference words.
func WER(reference, hypothesis string) float64 {
	ref := strings.Fields(normalize(reference))
	hyp := strings.Fields(normalize(hypothesis))
	return errorRate(ref, hyp)
}

// CER is the character error rate of hypothesis against reference. Spaces
// between words count as characters.
func CER(reference, hypothesis string) float64 {
	ref := []rune(normalize(reference))
	hyp := []rune(normalize(hypothesis))
	return errorRate(ref, hyp)
}

func errorRate[T comparable](ref, hyp []T) float64 {
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0
		}
		return 1
	}
	return float64(levenshtein(ref, hyp)) / float64(len(ref))
}

func levenshtein[T comparable](a, b []T) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// CPS is the speaking rate in characters per second. It reports false when
// the duration is not positive.
func CPS(text string, durationSeconds float64) (float64, bool) {
	if durationSeconds <= 0 {
		return 0, false
	}
	return float64(utf8.RuneCountInString(normalize(text))) / durationSeconds, true
}
