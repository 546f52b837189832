package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Step is the forward-only pointer into the canonical pipeline position.
type Step string

// Canonical pipeline steps, in order.
const (
	StepUploaded       Step = "uploaded"
	StepAudioExtracted Step = "audio_extracted"
	StepTranscribed    Step = "transcribed"
	StepAnalyzed       Step = "analyzed"
	StepCompleted      Step = "completed"
)

var stepOrder = map[Step]int{
	StepUploaded:       0,
	StepAudioExtracted: 1,
	StepTranscribed:    2,
	StepAnalyzed:       3,
	StepCompleted:      4,
}

// Valid reports whether s is a known pipeline step.
func (s Step) Valid() bool {
	_, ok := stepOrder[s]
	return ok
}

// Before reports whether s comes before other in the canonical order.
func (s Step) Before(other Step) bool {
	return stepOrder[s] < stepOrder[other]
}

// Status is the outcome state of whichever step is currently active.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ASR method selectors.
const (
	ASRMethodWhisper = "whisper"
	ASRMethodAliyun  = "aliyun"
)

// SelectedSegment is one highlight time-range chosen by the analysis step,
// in whole seconds (start floored, end ceilinged).
type SelectedSegment struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Reason string `json:"reason"`
}

// Validate checks the 0 <= start < end invariant.
func (s SelectedSegment) Validate() error {
	if s.Start < 0 {
		return fmt.Errorf("segment start %d is negative", s.Start)
	}
	if s.Start >= s.End {
		return fmt.Errorf("segment start %d is not before end %d", s.Start, s.End)
	}
	return nil
}

// SegmentList is a JSON column of selected segments.
type SegmentList []SelectedSegment

// Value implements driver.Valuer for database storage
func (l SegmentList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Scan implements sql.Scanner for database retrieval
func (l *SegmentList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, l)
}

// ContentSegment is one speaker/topic annotation produced by the
// structure-annotation step. Times are carried both as formatted
// HH:MM:SS strings and as integer seconds.
type ContentSegment struct {
	ID           int      `json:"id"`
	Speaker      string   `json:"speaker"`
	Topic        string   `json:"topic"`
	StartTime    string   `json:"startTime"`
	EndTime      string   `json:"endTime"`
	StartSeconds int      `json:"startSeconds"`
	EndSeconds   int      `json:"endSeconds"`
	Summary      string   `json:"summary"`
	Keywords     []string `json:"keywords"`
}

// StructureList is a JSON column of content-structure annotations.
type StructureList []ContentSegment

// Value implements driver.Valuer for database storage
func (l StructureList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Scan implements sql.Scanner for database retrieval
func (l *StructureList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, l)
}

// Job represents one clipping job per uploaded video. Status describes the
// outcome of the step currently in flight, not the whole pipeline; the
// pipeline is done only when Step is StepCompleted.
type Job struct {
	ID     int64  `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	OriginalVideoURL string   `json:"original_video_url" db:"original_video_url"`
	OriginalVideoKey string   `json:"original_video_key" db:"original_video_key"`
	OriginalFilename string   `json:"original_filename" db:"original_filename"`
	FileSize         int64    `json:"file_size" db:"file_size"`
	Duration         *float64 `json:"duration,omitempty" db:"duration"`

	UserRequirement string `json:"user_requirement" db:"user_requirement"`
	ASRMethod       string `json:"asr_method" db:"asr_method"`

	Status       Status `json:"status" db:"status"`
	Step         Step   `json:"step" db:"step"`
	Progress     int    `json:"progress" db:"progress"`
	CurrentStep  string `json:"current_step" db:"current_step"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	AudioURL         string        `json:"audio_url,omitempty" db:"audio_url"`
	AudioKey         string        `json:"audio_key,omitempty" db:"audio_key"`
	TranscriptURL    string        `json:"transcript_url,omitempty" db:"transcript_url"`
	TranscriptKey    string        `json:"transcript_key,omitempty" db:"transcript_key"`
	ContentStructure StructureList `json:"content_structure,omitempty" db:"content_structure"`
	ScriptPrompt     string        `json:"script_prompt,omitempty" db:"script_prompt"`
	OverallScript    string        `json:"overall_script,omitempty" db:"overall_script"`
	SelectedSegments SegmentList   `json:"selected_segments,omitempty" db:"selected_segments"`
	FinalVideoURL    string        `json:"final_video_url,omitempty" db:"final_video_url"`
	FinalVideoKey    string        `json:"final_video_key,omitempty" db:"final_video_key"`
	SubtitleURL      string        `json:"subtitle_url,omitempty" db:"subtitle_url"`
	SubtitleKey      string        `json:"subtitle_key,omitempty" db:"subtitle_key"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}
