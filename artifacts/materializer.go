package artifacts

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-maskstab/jobs"
	"github.com/nvr-ai/go-maskstab/masks"
	"github.com/nvr-ai/go-maskstab/render"
	"github.com/nvr-ai/go-maskstab/telemetry"
	"github.com/nvr-ai/go-maskstab/video"
)

// Kind selects what a frame artifact shows.
type Kind string

const (
	// KindOriginal is the decoded frame with no overlay.
	KindOriginal Kind = "original"
	// KindMaskBefore overlays the raw segmentation mask.
	KindMaskBefore Kind = "mask_before"
	// KindMaskAfter overlays the stabilized mask.
	KindMaskAfter Kind = "mask_after"
	// KindComparison shows original, raw and stabilized side by side.
	KindComparison Kind = "comparison"
)

var (
	// ErrFrameOutOfRange marks an index outside the job's frame count.
	ErrFrameOutOfRange = errors.New("frame index out of range")

	// ErrInvalidRange marks a clip range that is empty, inverted or outside
	// the job's frames.
	ErrInvalidRange = errors.New("invalid frame range")

	// ErrUnknownKind marks an unrecognized artifact kind.
	ErrUnknownKind = errors.New("unknown artifact kind")
)

// ClipEncoder writes frames to a video container on disk.
type ClipEncoder interface {
	WriteClip(path string, fps float64, frames []image.Image) error
}

// Materializer renders frame and clip artifacts on demand and caches the
// encoded bytes. It never mutates jobs.
type Materializer struct {
	store    jobs.Store
	blobs    BlobStore
	renderer render.Renderer
	encoder  ClipEncoder
	logger   *zap.Logger
}

// NewMaterializer wires the materializer over the live job store.
func NewMaterializer(store jobs.Store, blobs BlobStore, r render.Renderer, enc ClipEncoder, logger *zap.Logger) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{store: store, blobs: blobs, renderer: r, encoder: enc, logger: logger}
}

// frameData is everything rendering needs, captured under the store lock.
// Frames and maps are immutable once attached, so holding them after the
// View returns is safe.
type frameData struct {
	img    image.Image
	before masks.ProbabilityMap
	after  masks.ProbabilityMap
	kind   Kind
}

// Frame returns the encoded PNG for one frame artifact, rendering and
// caching it on first request.
func (m *Materializer) Frame(ctx context.Context, id uuid.UUID, kind Kind, index int) ([]byte, error) {
	switch kind {
	case KindOriginal, KindMaskBefore, KindMaskAfter, KindComparison:
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "%q", kind)
	}

	key := fmt.Sprintf("%s_%04d.png", kind, index)
	if data, err := m.blobs.Get(ctx, id, key); err == nil {
		telemetry.ArtifactCacheHits.WithLabelValues("hit").Inc()
		return data, nil
	} else if !errors.Is(err, ErrBlobNotFound) {
		return nil, err
	}
	telemetry.ArtifactCacheHits.WithLabelValues("miss").Inc()

	var fd frameData
	var gateErr error
	err := m.store.View(id, func(j *jobs.Job) {
		if len(j.Frames) == 0 {
			gateErr = errors.Wrapf(jobs.ErrInvalidStateTransition, "cannot render frame in status: %s", j.State)
			return
		}
		if index < 0 || index >= len(j.Frames) {
			gateErr = errors.Wrapf(ErrFrameOutOfRange, "index %d, job has %d frames", index, len(j.Frames))
			return
		}
		if (kind == KindMaskAfter || kind == KindComparison) && j.After.Len() == 0 {
			gateErr = errors.Wrapf(jobs.ErrInvalidStateTransition, "cannot render %s in status: %s", kind, j.State)
			return
		}
		fd.kind = kind
		fd.img = j.Frames[index].Image
		if j.Before.Len() > index {
			fd.before = j.Before.Maps[index]
		}
		if j.After.Len() > index {
			fd.after = j.After.Maps[index]
		}
	})
	if err != nil {
		return nil, err
	}
	if gateErr != nil {
		return nil, gateErr
	}

	img, err := m.renderFrame(fd)
	if err != nil {
		return nil, err
	}
	data, err := m.renderer.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	if err := m.blobs.Put(ctx, id, key, data); err != nil {
		// Serving beats caching; log and return the rendered bytes.
		m.logger.Warn("artifact cache write failed",
			zap.String("job_id", id.String()), zap.String("key", key), zap.Error(err))
	}
	return data, nil
}

func (m *Materializer) renderFrame(fd frameData) (image.Image, error) {
	switch fd.kind {
	case KindOriginal:
		return fd.img, nil
	case KindMaskBefore:
		return m.renderer.Overlay(fd.img, fd.before)
	case KindMaskAfter:
		return m.renderer.Overlay(fd.img, fd.after)
	default:
		return m.renderer.Comparison(fd.img, fd.before, fd.after)
	}
}

// Clip exports frames [start, end) as a side-by-side comparison video and
// returns the encoded container bytes. The job must be completed.
func (m *Materializer) Clip(ctx context.Context, id uuid.UUID, start, end int) ([]byte, error) {
	key := fmt.Sprintf("clip_%04d_%04d.mp4", start, end)
	if data, err := m.blobs.Get(ctx, id, key); err == nil {
		telemetry.ArtifactCacheHits.WithLabelValues("hit").Inc()
		return data, nil
	} else if !errors.Is(err, ErrBlobNotFound) {
		return nil, err
	}
	telemetry.ArtifactCacheHits.WithLabelValues("miss").Inc()

	var (
		frames  []video.Frame
		before  []masks.ProbabilityMap
		after   []masks.ProbabilityMap
		fps     float64
		gateErr error
	)
	err := m.store.View(id, func(j *jobs.Job) {
		if j.State != jobs.StateCompleted {
			gateErr = errors.Wrapf(jobs.ErrInvalidStateTransition, "cannot export clip in status: %s", j.State)
			return
		}
		if start < 0 || end > len(j.Frames) || start >= end {
			gateErr = errors.Wrapf(ErrInvalidRange, "[%d, %d) of %d frames", start, end, len(j.Frames))
			return
		}
		frames = j.Frames[start:end]
		before = j.Before.Maps[start:end]
		after = j.After.Maps[start:end]
		fps = j.Meta.FPS
	})
	if err != nil {
		return nil, err
	}
	if gateErr != nil {
		return nil, gateErr
	}

	rendered := make([]image.Image, len(frames))
	for i, f := range frames {
		img, err := m.renderer.Comparison(f.Image, before[i], after[i])
		if err != nil {
			return nil, errors.Wrapf(err, "render comparison frame %d", start+i)
		}
		rendered[i] = img
	}

	tmpDir, err := os.MkdirTemp("", "maskstab-clip-")
	if err != nil {
		return nil, errors.Wrap(err, "create clip workdir")
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, key)
	if err := m.encoder.WriteClip(path, fps, rendered); err != nil {
		return nil, errors.Wrap(err, "encode clip")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read encoded clip")
	}

	if err := m.blobs.Put(ctx, id, key, data); err != nil {
		m.logger.Warn("artifact cache write failed",
			zap.String("job_id", id.String()), zap.String("key", key), zap.Error(err))
	}
	return data, nil
}
