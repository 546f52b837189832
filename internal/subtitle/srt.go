// Package subtitle generates and manipulates SRT timed text.
package subtitle

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TimedSegment is one span of recognized speech.
type TimedSegment struct {
	Start float64
	End   float64
	Text  string
}

// FormatTimestamp renders seconds as an SRT timestamp, HH:MM:SS,mmm.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}

	whole := int(seconds)
	millis := int(math.Round((seconds - float64(whole)) * 1000))
	if millis >= 1000 {
		whole++
		millis -= 1000
	}

	h := whole / 3600
	m := (whole % 3600) / 60
	s := whole % 60

	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, millis)
}

// FormatClock renders whole seconds as HH:MM:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// Generate renders timed segments as sequential SRT blocks. offsetSeconds is
// added to every timestamp, which is how per-segment transcripts of a split
// audio file are shifted back onto the full timeline.
func Generate(segments []TimedSegment, offsetSeconds int) string {
	var b strings.Builder

	for i, seg := range segments {
		start := seg.Start + float64(offsetSeconds)
		end := seg.End + float64(offsetSeconds)

		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("\n")
		b.WriteString(FormatTimestamp(start))
		b.WriteString(" --> ")
		b.WriteString(FormatTimestamp(end))
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(seg.Text))
		b.WriteString("\n\n")
	}

	return b.String()
}

// Merge joins per-segment SRT outputs into one artifact.
func Merge(parts []string) string {
	trimmed := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed = append(trimmed, strings.TrimRight(p, "\n"))
	}
	return strings.Join(trimmed, "\n\n") + "\n"
}

// ParseClock parses "HH:MM:SS", "MM:SS", "SS", optionally with an SRT
// ",mmm" millisecond suffix, into fractional seconds.
func ParseClock(clock string) (float64, error) {
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	var millis float64
	if idx := strings.IndexAny(clock, ",."); idx >= 0 {
		frac, err := strconv.ParseFloat("0."+strings.TrimLeft(clock[idx+1:], ",."), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q: %w", clock, err)
		}
		millis = frac
		clock = clock[:idx]
	}

	parts := strings.Split(clock, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", clock)
	}

	var total float64
	for _, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q: %w", clock, err)
		}
		total = total*60 + n
	}

	return total + millis, nil
}

// ClampRange converts a formatted start/end pair into whole seconds with the
// persistence rule for selected segments: start floored, end ceilinged.
func ClampRange(start, end string) (int, int, error) {
	s, err := ParseClock(start)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start time: %w", err)
	}

	e, err := ParseClock(end)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end time: %w", err)
	}

	return int(math.Floor(s)), int(math.Ceil(e)), nil
}
