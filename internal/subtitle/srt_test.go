package subtitle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		seconds  float64
		expected string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{10.4, "00:00:10,400"},
		{45.9, "00:00:45,900"},
		{3661.25, "01:01:01,250"},
		{59.9996, "00:01:00,000"}, // millisecond rounding carries into seconds
		{-3, "00:00:00,000"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatTimestamp(tt.seconds), "seconds=%v", tt.seconds)
	}
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatClock(0))
	assert.Equal(t, "00:05:30", FormatClock(330))
	assert.Equal(t, "01:00:01", FormatClock(3601))
	assert.Equal(t, "00:00:00", FormatClock(-5))
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		clock    string
		expected float64
	}{
		{"00:00:10", 10},
		{"00:05:30", 330},
		{"01:00:00", 3600},
		{"05:30", 330},
		{"42", 42},
		{"00:00:10,400", 10.4},
		{"00:00:45.900", 45.9},
		{" 00:01:00 ", 60},
	}

	for _, tt := range tests {
		got, err := ParseClock(tt.clock)
		require.NoError(t, err, "clock=%q", tt.clock)
		assert.InDelta(t, tt.expected, got, 0.0001, "clock=%q", tt.clock)
	}
}

func TestParseClock_Invalid(t *testing.T) {
	for _, clock := range []string{"", "a:b:c", "1:2:3:4", "00:xx:10"} {
		_, err := ParseClock(clock)
		assert.Error(t, err, "clock=%q", clock)
	}
}

// Segment bounds are stored as whole seconds: starts floor so clips never
// open mid-word, ends ceil so they never cut one off.
func TestClampRange(t *testing.T) {
	tests := []struct {
		start, end string
		wantStart  int
		wantEnd    int
	}{
		{"00:00:10,400", "00:00:45,900", 10, 46},
		{"00:00:10", "00:00:45", 10, 45},
		{"00:05:30", "00:07:15", 330, 435},
		{"00:00:00,999", "00:00:01,001", 0, 2},
	}

	for _, tt := range tests {
		start, end, err := ClampRange(tt.start, tt.end)
		require.NoError(t, err)
		assert.Equal(t, tt.wantStart, start, "start of %s", tt.start)
		assert.Equal(t, tt.wantEnd, end, "end of %s", tt.end)
	}
}

func TestClampRange_Invalid(t *testing.T) {
	_, _, err := ClampRange("bogus", "00:00:10")
	assert.Error(t, err)

	_, _, err = ClampRange("00:00:10", "bogus")
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	segments := []TimedSegment{
		{Start: 0, End: 2.5, Text: "hello there"},
		{Start: 2.5, End: 5, Text: " general kenobi "},
	}

	srt := Generate(segments, 0)

	assert.Contains(t, srt, "1\n00:00:00,000 --> 00:00:02,500\nhello there\n")
	assert.Contains(t, srt, "2\n00:00:02,500 --> 00:00:05,000\ngeneral kenobi\n")
}

// Transcripts of split audio are shifted by segment position so the merged
// subtitle file stays on the original video's timeline.
func TestGenerate_Offset(t *testing.T) {
	segments := []TimedSegment{
		{Start: 10, End: 12, Text: "second hour"},
	}

	srt := Generate(segments, 3360)

	assert.Contains(t, srt, "00:56:10,000 --> 00:56:12,000")
	assert.NotContains(t, srt, "00:00:10,000")
}

func TestMerge(t *testing.T) {
	first := Generate([]TimedSegment{{Start: 0, End: 1, Text: "one"}}, 0)
	second := Generate([]TimedSegment{{Start: 0, End: 1, Text: "two"}}, 3360)

	merged := Merge([]string{first, second})

	assert.Contains(t, merged, "00:00:00,000 --> 00:00:01,000")
	assert.Contains(t, merged, "00:56:00,000 --> 00:56:01,000")
	assert.True(t, strings.HasSuffix(merged, "\n"))
	assert.False(t, strings.Contains(merged, "\n\n\n\n"), "no runaway blank lines")
}

func TestGenerate_Empty(t *testing.T) {
	assert.Equal(t, "", Generate(nil, 0))
}
