// Package align runs forced alignment and reads its TextGrid output.
package align

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/util"
)

// Tier is one interval tier of a TextGrid
type Tier struct {
	Name      string
	Class     string
	Intervals []corpus.Interval
}

// TextGrid is a parsed Praat TextGrid in the long text format
type TextGrid struct {
	Start float64
	End   float64
	Tiers []Tier
}

// ParseTextGrid reads a long-format TextGrid. UTF-8 and UTF-16 (with BOM)
// input are accepted.
func ParseTextGrid(r io.Reader) (*TextGrid, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	sc := bufio.NewScanner(decoded)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	tg := &TextGrid{}
	var (
		tier     *Tier
		interval *corpus.Interval
		lineNo   int
		header   bool
	)

	flush := func() {
		if interval != nil && tier != nil {
			interval.Duration = interval.End - interval.Start
			tier.Intervals = append(tier.Intervals, *interval)
		}
		interval = nil
	}

	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !header {
			if !strings.Contains(line, "ooTextFile") {
				return nil, fmt.Errorf("%w: not a TextGrid file", util.ErrCorrupt)
			}
			header = true
			continue
		}

		switch {
		case strings.HasPrefix(line, "item [") && line != "item []:":
			flush()
			tg.Tiers = append(tg.Tiers, Tier{})
			tier = &tg.Tiers[len(tg.Tiers)-1]
			continue
		case strings.HasPrefix(line, "intervals [") || strings.HasPrefix(line, "points ["):
			flush()
			interval = &corpus.Interval{}
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Quoted values may continue over several lines
		if strings.HasPrefix(value, `"`) {
			for !closedQuote(value) && sc.Scan() {
				lineNo++
				value += "\n" + sc.Text()
			}
		}

		var err error
		switch {
		case tier == nil:
			switch key {
			case "xmin":
				tg.Start, err = parseNumber(value)
			case "xmax":
				tg.End, err = parseNumber(value)
			}
		case interval == nil:
			switch key {
			case "class":
				tier.Class, err = parseString(value)
			case "name":
				tier.Name, err = parseString(value)
			}
		default:
			switch key {
			case "xmin":
				interval.Start, err = parseNumber(value)
			case "xmax":
				interval.End, err = parseNumber(value)
			case "number":
				interval.Start, err = parseNumber(value)
				interval.End = interval.Start
			case "text", "mark":
				interval.Text, err = parseString(value)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", util.ErrCorrupt, lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read TextGrid: %w", err)
	}
	flush()

	if !header {
		return nil, fmt.Errorf("%w: empty TextGrid", util.ErrCorrupt)
	}
	return tg, nil
}

// closedQuote reports whether a value opened with a quote has its closing
// quote. Praat escapes quotes by doubling them.
func closedQuote(value string) bool {
	body := value[1:]
	n := 0
	for i := 0; i < len(body); i++ {
		if body[i] == '"' {
			n++
		}
	}
	return n%2 == 1
}

func parseString(value string) (string, error) {
	if len(value) < 2 || value[0] != '"' || value[len(value)-1] != '"' {
		return "", fmt.Errorf("expected quoted string, got %q", value)
	}
	return strings.ReplaceAll(value[1:len(value)-1], `""`, `"`), nil
}

func parseNumber(value string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(value), 64)
}
