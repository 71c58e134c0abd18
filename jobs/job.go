// Package jobs tracks one uploaded video through segmentation, stabilization
// and metrics. The Orchestrator is the state machine's only writer; callers
// poll Status while stages run in the background.
package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/nvr-ai/go-maskstab/masks"
	"github.com/nvr-ai/go-maskstab/metrics"
	"github.com/nvr-ai/go-maskstab/segmentation"
	"github.com/nvr-ai/go-maskstab/stabilize"
	"github.com/nvr-ai/go-maskstab/video"
)

// State is a job lifecycle state.
type State string

const (
	StateUploaded    State = "uploaded"
	StateSegmenting  State = "segmenting"
	StateSegmented   State = "segmented"
	StateStabilizing State = "stabilizing"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Job is the unit of work: one uploaded video and everything derived from
// it. A job exclusively owns its frame and mask data; nothing is shared
// across jobs. Fields are guarded by the owning Store.
type Job struct {
	ID       uuid.UUID
	State    State
	Progress float64
	Message  string
	Error    string

	Meta        video.Metadata
	TargetClass segmentation.Class
	Method      stabilize.Method
	Params      stabilize.Params

	Source video.Source
	Frames []video.Frame
	Before masks.Sequence
	After  masks.Sequence
	Report *metrics.Report

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewJob builds a freshly uploaded job.
func NewJob(src video.Source, meta video.Metadata) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New(),
		State:     StateUploaded,
		Message:   "video uploaded",
		Meta:      meta,
		Source:    src,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// setStage moves the job into a new state and resets stage progress.
func (j *Job) setStage(s State, msg string) {
	j.State = s
	j.Progress = 0
	j.Message = msg
}

// advance raises the active stage's progress. Progress is monotonically
// non-decreasing within a stage; stale lower values are dropped.
func (j *Job) advance(p float64, msg string) {
	if p > j.Progress {
		j.Progress = p
	}
	if msg != "" {
		j.Message = msg
	}
}

// markFailed records the terminal failure state.
func (j *Job) markFailed(err error) {
	j.State = StateFailed
	j.Error = err.Error()
	j.Message = err.Error()
}

// Status is the immutable snapshot returned by status queries. The report
// pointer is shared: a Report is immutable once computed.
type Status struct {
	ID          uuid.UUID          `json:"job_id"`
	State       State              `json:"status"`
	Progress    float64            `json:"progress"`
	Message     string             `json:"message"`
	Error       string             `json:"error,omitempty"`
	Meta        video.Metadata     `json:"video_info"`
	TargetClass string             `json:"target_class,omitempty"`
	Method      stabilize.Method   `json:"method,omitempty"`
	Params      stabilize.Params   `json:"params,omitempty"`
	Report      *metrics.Report    `json:"metrics,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func (j *Job) snapshot() Status {
	return Status{
		ID:          j.ID,
		State:       j.State,
		Progress:    j.Progress,
		Message:     j.Message,
		Error:       j.Error,
		Meta:        j.Meta,
		TargetClass: j.TargetClass.Name,
		Method:      j.Method,
		Params:      j.Params,
		Report:      j.Report,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}
