package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/clipline/clipline/internal/config"
)

// AliyunClient transcribes audio through an Aliyun-style recognition API
// that accepts the raw audio body and returns sentence-level timings in
// milliseconds.
type AliyunClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewAliyunClient creates an aliyun transcriber from configuration.
func NewAliyunClient(cfg config.ASRConfig) *AliyunClient {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	return &AliyunClient{
		endpoint: cfg.AliyunEndpoint,
		apiKey:   cfg.AliyunAPIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type aliyunResponse struct {
	Result struct {
		Sentences []struct {
			BeginTime int64  `json:"begin_time"`
			EndTime   int64  `json:"end_time"`
			Text      string `json:"text"`
		} `json:"sentences"`
	} `json:"result"`
}

// Transcribe posts the audio payload and converts sentence timings to seconds.
func (c *AliyunClient) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if c.apiKey == "" || c.endpoint == "" {
		return nil, fmt.Errorf("%w: aliyun endpoint or key is empty", ErrConfigMissing)
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-NLS-Token", c.apiKey)

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

	var parsed aliyunResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrUpstream, err)
	}

	result := &Result{Segments: make([]Segment, 0, len(parsed.Result.Sentences))}
	for _, s := range parsed.Result.Sentences {
		seg := Segment{
			Start: float64(s.BeginTime) / 1000,
			End:   float64(s.EndTime) / 1000,
			Text:  s.Text,
		}
		result.Segments = append(result.Segments, seg)
		result.Text += s.Text
		if seg.End > result.Duration {
			result.Duration = seg.End
		}
	}

	return result, nil
}

// Select returns the transcriber for a job's ASR method selector.
func Select(method string, whisper, aliyun Transcriber) Transcriber {
	if method == "aliyun" {
		return aliyun
	}
	return whisper
}
