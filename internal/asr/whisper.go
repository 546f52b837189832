package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/clipline/clipline/internal/config"
)

// WhisperClient transcribes audio through a whisper-compatible HTTP API.
type WhisperClient struct {
	endpoint string
	apiKey   string
	language string
	prompt   string
	client   *http.Client
}

// NewWhisperClient creates a whisper transcriber from configuration.
func NewWhisperClient(cfg config.ASRConfig) *WhisperClient {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	return &WhisperClient{
		endpoint: cfg.WhisperEndpoint,
		apiKey:   cfg.WhisperAPIKey,
		language: cfg.Language,
		prompt:   cfg.Prompt,
		client:   &http.Client{Timeout: timeout},
	}
}

// whisperResponse mirrors the verbose_json response shape.
type whisperResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads the audio file and returns timed segments.
func (c *WhisperClient) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: whisper API key is empty", ErrConfigMissing)
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}

	writer.WriteField("model", "whisper-1")
	writer.WriteField("response_format", "verbose_json")
	if c.language != "" {
		writer.WriteField("language", c.language)
	}
	if c.prompt != "" {
		writer.WriteField("prompt", c.prompt)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, wrapStatus(resp.StatusCode, string(respBody))
	}

	var parsed whisperResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrUpstream, err)
	}

	result := &Result{
		Text:     parsed.Text,
		Duration: parsed.Duration,
		Segments: make([]Segment, 0, len(parsed.Segments)),
	}
	for _, s := range parsed.Segments {
		result.Segments = append(result.Segments, Segment{Start: s.Start, End: s.End, Text: s.Text})
	}

	return result, nil
}
