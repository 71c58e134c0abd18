package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is the durable, serializable projection of a job. Frame and mask
// payloads stay in the live store; only metadata, parameters and the metrics
// report survive a restart.
type Record struct {
	ID          uuid.UUID
	State       string
	TargetClass string
	Method      string
	Width       int
	Height      int
	FPS         float64
	FrameCount  int
	Error       string
	Report      []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Recorder persists job records. Saves are best effort: the live store
// remains authoritative and a failing recorder never fails a stage.
type Recorder interface {
	Save(ctx context.Context, r Record) error
}

func (j *Job) record() Record {
	rec := Record{
		ID:          j.ID,
		State:       string(j.State),
		TargetClass: j.TargetClass.Name,
		Method:      string(j.Method),
		Width:       j.Meta.Width,
		Height:      j.Meta.Height,
		FPS:         j.Meta.FPS,
		FrameCount:  j.Meta.FrameCount,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	if j.Report != nil {
		// The report marshals cleanly by construction; an error here would
		// mean a corrupted in-memory report, which Save will surface.
		rec.Report, _ = json.Marshal(j.Report)
	}
	return rec
}
