package util

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatCount renders n with thousands separators
func FormatCount(n int) string {
	return humanize.Comma(int64(n))
}

// FormatBytes renders a byte size, e.g. "12 MB"
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// FormatHours renders an audio duration in seconds as hours
func FormatHours(seconds float64) string {
	return fmt.Sprintf("%sh", humanize.FormatFloat("#,###.##", seconds/3600))
}

// FormatElapsed renders a wall-clock duration rounded to milliseconds
func FormatElapsed(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
