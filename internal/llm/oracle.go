// Package llm wraps the content-selection oracle: prompt generation,
// synopsis generation, structure annotation, and schema-constrained
// highlight selection over an SRT transcript.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clipline/clipline/internal/config"
	"github.com/clipline/clipline/pkg/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// SelectedRange is one highlight range as the oracle returns it, with
// HH:MM:SS formatted bounds.
type SelectedRange struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason"`
}

// Oracle is the content-selection capability the pipeline consumes.
type Oracle interface {
	GeneratePrompt(ctx context.Context, userRequirement string) (string, error)
	GenerateScript(ctx context.Context, scriptPrompt, structureInfo, transcript string) (string, error)
	SelectSegments(ctx context.Context, scriptPrompt, structureInfo, overallScript, transcript string) ([]SelectedRange, error)
	AnnotateStructure(ctx context.Context, transcript string) ([]models.ContentSegment, error)
}

// Client implements Oracle on a langchaingo model.
type Client struct {
	llm   llms.Model
	model string
}

// NewClient creates an oracle client based on configuration.
func NewClient(cfg config.LLMConfig) (*Client, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case "ollama":
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	return &Client{llm: model, model: cfg.Model}, nil
}

// generate runs a system+user prompt pair and returns the first choice.
func (c *Client) generate(ctx context.Context, systemPrompt, userPrompt string, opts ...llms.CallOption) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, userPrompt),
	}

	response, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return response.Choices[0].Content, nil
}

// GeneratePrompt turns a free-text user requirement into an editing guidance
// document. The guidance must pin concrete clip counts and durations, since
// the selection call later follows it literally.
func (c *Client) GeneratePrompt(ctx context.Context, userRequirement string) (string, error) {
	system := "You are a professional video analysis expert."
	user := fmt.Sprintf(`Generate a detailed analysis prompt that will guide video content
analysis and highlight selection for the requirement below.

User requirement: %s

The prompt must cover:
1. Video type identification (talk, lecture, interview, vlog, ...)
2. Editing goal (specific speaker, best arguments, tutorial steps, ...)
3. Content focus (technical detail, business strategy, case studies, ...)
4. Pacing rules with concrete numbers: clip duration (e.g. 30s each,
   1-2 minutes each) and clip count (e.g. 3 clips, 3-5 clips). Never
   leave these vague; pick sensible defaults if the requirement is silent.
5. Target audience.

Return structured plain text, not JSON.`, userRequirement)

	return c.generate(ctx, system, user)
}

// GenerateScript produces an overall synopsis of the transcript guided by
// the analysis prompt and any existing structure annotations.
func (c *Client) GenerateScript(ctx context.Context, scriptPrompt, structureInfo, transcript string) (string, error) {
	system := "You are a professional video content analysis assistant."
	user := fmt.Sprintf(`Using the analysis prompt and the SRT transcript below, write a complete
content script for the video: an overview, the main content structure
described section by section, and the key takeaways.

Analysis prompt:
%s%s

SRT transcript:
%s

Return plain text, not JSON.`, scriptPrompt, structureInfo, transcript)

	return c.generate(ctx, system, user)
}

// SelectSegments asks the oracle for highlight time-ranges. Ranges must use
// timestamps that actually occur in the transcript; when the script names
// numbered SRT blocks those blocks take priority; clip count and duration
// follow the analysis prompt.
func (c *Client) SelectSegments(ctx context.Context, scriptPrompt, structureInfo, overallScript, transcript string) ([]SelectedRange, error) {
	system := "You are a professional video content analysis assistant who extracts highlights from long videos."
	user := fmt.Sprintf(`Select the highlight segments that best match the requirements below.

Analysis prompt:
%s%s

Overall script:
%s

SRT transcript:
%s

Rules:
1. If the overall script names numbered subtitle blocks (e.g. "blocks 14-15"),
   select exactly those: the start of the first named block to the end of the
   last one.
2. Use timestamps that appear in the SRT; never invent times.
3. Follow the clip count and duration the analysis prompt specifies.
4. Output times as HH:MM:SS.

Respond with JSON only, shaped as:
{"segments": [{"start_time": "00:05:30", "end_time": "00:07:15", "reason": "..."}]}`,
		scriptPrompt, structureInfo, overallScript, transcript)

	answer, err := c.generate(ctx, system, user, llms.WithJSONMode())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Segments []SelectedRange `json:"segments"`
	}
	if err := json.Unmarshal([]byte(extractJSON(answer)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse segment selection: %w", err)
	}

	return parsed.Segments, nil
}

// AnnotateStructure partitions the transcript into speaker/topic segments
// with summaries and keywords.
func (c *Client) AnnotateStructure(ctx context.Context, transcript string) ([]models.ContentSegment, error) {
	system := "You are a video content structure analyst who identifies speakers, topics and time ranges from subtitles."
	user := fmt.Sprintf(`Analyze the SRT transcript below and identify its structural segments.

SRT transcript:
%s

For each segment provide: an incrementing id, the speaker (use "Speaker 1",
"Speaker 2" when names are unknown), a short topic (a few words), startTime
and endTime taken from SRT timestamps as HH:MM:SS, startSeconds and
endSeconds as integers, a one-or-two sentence summary, and 3-5 keywords.

Respond with JSON only, shaped as:
{"segments": [{"id": 1, "speaker": "Host", "topic": "Opening", "startTime": "00:00:00",
"endTime": "00:02:30", "startSeconds": 0, "endSeconds": 150, "summary": "...",
"keywords": ["..."]}]}`, transcript)

	answer, err := c.generate(ctx, system, user, llms.WithJSONMode())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Segments []models.ContentSegment `json:"segments"`
	}
	if err := json.Unmarshal([]byte(extractJSON(answer)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse structure annotation: %w", err)
	}

	return parsed.Segments, nil
}

// FormatStructure renders existing structure annotations for inclusion in
// synopsis and selection prompts. Returns "" when there are none.
func FormatStructure(structure models.StructureList) string {
	if len(structure) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\nAnnotated content structure:\n")
	for i, seg := range structure {
		fmt.Fprintf(&b, "\nSegment %d:\n", i+1)
		fmt.Fprintf(&b, "- Speaker: %s\n", orUnknown(seg.Speaker))
		fmt.Fprintf(&b, "- Topic: %s\n", orUnknown(seg.Topic))
		fmt.Fprintf(&b, "- Time range: %s - %s\n", seg.StartTime, seg.EndTime)
		fmt.Fprintf(&b, "- Summary: %s\n", orUnknown(seg.Summary))
		fmt.Fprintf(&b, "- Keywords: %s\n", strings.Join(seg.Keywords, ", "))
	}

	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// extractJSON strips markdown code fences some models wrap around JSON.
func extractJSON(answer string) string {
	answer = strings.TrimSpace(answer)

	if idx := strings.Index(answer, "```json"); idx >= 0 {
		answer = answer[idx+len("```json"):]
	} else if idx := strings.Index(answer, "```"); idx >= 0 {
		answer = answer[idx+3:]
	} else {
		return answer
	}

	if end := strings.Index(answer, "```"); end >= 0 {
		answer = answer[:end]
	}

	return strings.TrimSpace(answer)
}
