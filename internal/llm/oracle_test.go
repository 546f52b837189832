package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clipline/clipline/internal/config"
	"github.com/clipline/clipline/pkg/models"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{
			name:   "bare json",
			answer: `{"segments": []}`,
			want:   `{"segments": []}`,
		},
		{
			name:   "json fence",
			answer: "```json\n{\"segments\": [1]}\n```",
			want:   `{"segments": [1]}`,
		},
		{
			name:   "plain fence",
			answer: "```\n{\"a\": 1}\n```",
			want:   `{"a": 1}`,
		},
		{
			name:   "fence with leading prose",
			answer: "Here is the result:\n```json\n{\"a\": 1}\n```\nLet me know.",
			want:   `{"a": 1}`,
		},
		{
			name:   "surrounding whitespace",
			answer: "  \n{\"a\": 1}\n  ",
			want:   `{"a": 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.answer))
		})
	}
}

func TestFormatStructure(t *testing.T) {
	assert.Empty(t, FormatStructure(nil))
	assert.Empty(t, FormatStructure(models.StructureList{}))

	structure := models.StructureList{
		{
			ID:        1,
			Speaker:   "Host",
			Topic:     "Opening",
			StartTime: "00:00:00",
			EndTime:   "00:02:30",
			Summary:   "Welcomes the guest.",
			Keywords:  []string{"intro", "welcome"},
		},
		{
			ID:        2,
			StartTime: "00:02:30",
			EndTime:   "00:10:00",
		},
	}

	out := FormatStructure(structure)
	assert.Contains(t, out, "Segment 1:")
	assert.Contains(t, out, "- Speaker: Host")
	assert.Contains(t, out, "- Time range: 00:00:00 - 00:02:30")
	assert.Contains(t, out, "- Keywords: intro, welcome")

	// Missing fields render as unknown instead of empty
	assert.Contains(t, out, "Segment 2:")
	assert.Contains(t, out, "- Speaker: unknown")
	assert.Contains(t, out, "- Topic: unknown")
}

func TestNewClient_ProviderValidation(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Provider: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unsupported LLM provider")

	_, err = NewClient(config.LLMConfig{Provider: "openai", Model: "gpt-4o"})
	assert.ErrorContains(t, err, "API key required")
}
