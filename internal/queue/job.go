package queue

import (
	"time"

	"github.com/streamvault/backend/internal/extractor"
)

// Kind classifies what a job downloads and how its output is produced.
type Kind string

const (
	KindVideo           Kind = "video"
	KindAudio           Kind = "audio"
	KindVideoMerge      Kind = "video_merge"
	KindLive            Kind = "live"
	KindPlaylistVideo   Kind = "playlist_video"
	KindPlaylistAudio   Kind = "playlist_audio"
	KindSegmentedStream Kind = "segmented_stream"
)

// Valid reports whether the kind is one the pipeline knows how to run.
func (k Kind) Valid() bool {
	switch k {
	case KindVideo, KindAudio, KindVideoMerge, KindLive,
		KindPlaylistVideo, KindPlaylistAudio, KindSegmentedStream:
		return true
	}
	return false
}

// Status is a job's lifecycle state. Transitions are monotonic:
// Pending -> Running -> {Completed, Failed, Cancelled}, and Pending may go
// straight to Cancelled. Nothing leaves a terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is immutable after creation; lifecycle lives in JobState.
type Job struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	URL         string            `json:"url"`
	Options     extractor.Options `json:"options"`
	Priority    int               `json:"priority"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// JobState tracks one job's lifecycle. Exactly one per job, created at
// submission, mutated only by the scheduler that owns the job.
type JobState struct {
	JobID       string     `json:"job_id"`
	Status      Status     `json:"status"`
	Progress    float64    `json:"progress"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	RetryCount  int        `json:"retry_count"`
}
