// Package asr calls an external speech-to-text service and normalizes its
// failures into a small error taxonomy.
package asr

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds callers can branch on.
var (
	ErrUnsupportedFormat = errors.New("audio format not supported")
	ErrFileTooLarge      = errors.New("audio file exceeds service limit")
	ErrConfigMissing     = errors.New("speech-to-text credentials not configured")
	ErrUpstream          = errors.New("speech-to-text service failed")
)

// Segment is one span of recognized speech with fractional-second bounds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is a complete transcription.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Duration float64   `json:"duration"`
}

// Transcriber converts an audio file into timed text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*Result, error)
}

func wrapStatus(status int, body string) error {
	switch status {
	case 400:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, body)
	case 401, 403:
		return fmt.Errorf("%w: %s", ErrConfigMissing, body)
	case 413:
		return fmt.Errorf("%w: %s", ErrFileTooLarge, body)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, status, body)
	}
}
