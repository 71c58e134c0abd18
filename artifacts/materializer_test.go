package artifacts

import (
	"fmt"
	"image"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-maskstab/jobs"
	"github.com/nvr-ai/go-maskstab/masks"
	"github.com/nvr-ai/go-maskstab/video"
)

// stubRenderer counts renders and emits deterministic bytes so tests can
// tell a cache hit from a fresh render.
type stubRenderer struct {
	overlays    int
	comparisons int
	encodes     int
}

func (r *stubRenderer) Overlay(frame image.Image, pm masks.ProbabilityMap) (image.Image, error) {
	r.overlays++
	return frame, nil
}

func (r *stubRenderer) Comparison(frame image.Image, before, after masks.ProbabilityMap) (image.Image, error) {
	r.comparisons++
	return frame, nil
}

func (r *stubRenderer) EncodePNG(img image.Image) ([]byte, error) {
	r.encodes++
	return []byte(fmt.Sprintf("png-%d", r.encodes)), nil
}

type stubEncoder struct {
	clips int
}

func (e *stubEncoder) WriteClip(path string, fps float64, frames []image.Image) error {
	e.clips++
	return os.WriteFile(path, []byte(fmt.Sprintf("mp4-%d-frames-%d", e.clips, len(frames))), 0o644)
}

func flatMap(w, h int, fill float32) masks.ProbabilityMap {
	m := masks.NewProbabilityMap(w, h)
	for i := range m.Data {
		m.Data[i] = fill
	}
	return m
}

// seedJob builds a completed 3-frame job directly in the store.
func seedJob(t *testing.T, store jobs.Store, state jobs.State) uuid.UUID {
	t.Helper()
	const n = 3
	frames := make([]video.Frame, n)
	maps := make([]masks.ProbabilityMap, n)
	for i := range frames {
		frames[i] = video.Frame{Index: i, Image: image.NewRGBA(image.Rect(0, 0, 4, 4))}
		maps[i] = flatMap(4, 4, 0.8)
	}
	seq, err := masks.NewSequence(maps)
	require.NoError(t, err)

	j := &jobs.Job{
		ID:     uuid.New(),
		State:  state,
		Meta:   video.Metadata{Width: 4, Height: 4, FPS: 30, FrameCount: n},
		Frames: frames,
		Before: seq,
	}
	if state == jobs.StateCompleted {
		j.After = seq
	}
	store.Put(j)
	return j.ID
}

func newTestMaterializer(t *testing.T) (*Materializer, jobs.Store, *stubRenderer, *stubEncoder) {
	t.Helper()
	store := jobs.NewMemoryStore()
	blobs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	r := &stubRenderer{}
	e := &stubEncoder{}
	return NewMaterializer(store, blobs, r, e, zap.NewNop()), store, r, e
}

func TestFrameKindsRenderAndCache(t *testing.T) {
	m, store, r, _ := newTestMaterializer(t)
	id := seedJob(t, store, jobs.StateCompleted)

	for _, kind := range []Kind{KindOriginal, KindMaskBefore, KindMaskAfter, KindComparison} {
		first, err := m.Frame(t.Context(), id, kind, 1)
		require.NoError(t, err, "kind %s", kind)
		require.NotEmpty(t, first)

		again, err := m.Frame(t.Context(), id, kind, 1)
		require.NoError(t, err)
		assert.Equal(t, first, again, "second request for %s must hit the cache", kind)
	}

	assert.Equal(t, 4, r.encodes, "one render per kind, the rest served from cache")
	assert.Equal(t, 2, r.overlays)
	assert.Equal(t, 1, r.comparisons)
}

func TestFrameOutOfRange(t *testing.T) {
	m, store, _, _ := newTestMaterializer(t)
	id := seedJob(t, store, jobs.StateCompleted)

	_, err := m.Frame(t.Context(), id, KindOriginal, 3)
	require.ErrorIs(t, err, ErrFrameOutOfRange)
	_, err = m.Frame(t.Context(), id, KindOriginal, -1)
	require.ErrorIs(t, err, ErrFrameOutOfRange)
}

func TestFrameGatingByState(t *testing.T) {
	m, store, _, _ := newTestMaterializer(t)
	id := seedJob(t, store, jobs.StateSegmented)

	// Raw artifacts exist as soon as segmentation lands.
	_, err := m.Frame(t.Context(), id, KindOriginal, 0)
	require.NoError(t, err)
	_, err = m.Frame(t.Context(), id, KindMaskBefore, 0)
	require.NoError(t, err)

	// Stabilized artifacts need a completed stabilization.
	_, err = m.Frame(t.Context(), id, KindMaskAfter, 0)
	require.ErrorIs(t, err, jobs.ErrInvalidStateTransition)
	_, err = m.Frame(t.Context(), id, KindComparison, 0)
	require.ErrorIs(t, err, jobs.ErrInvalidStateTransition)
}

func TestFrameUnknownKindAndJob(t *testing.T) {
	m, store, _, _ := newTestMaterializer(t)
	id := seedJob(t, store, jobs.StateCompleted)

	_, err := m.Frame(t.Context(), id, Kind("thumbnail"), 0)
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = m.Frame(t.Context(), uuid.New(), KindOriginal, 0)
	require.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestClipExportAndCache(t *testing.T) {
	m, store, r, e := newTestMaterializer(t)
	id := seedJob(t, store, jobs.StateCompleted)

	data, err := m.Clip(t.Context(), id, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4-1-frames-3"), data)
	assert.Equal(t, 3, r.comparisons)

	again, err := m.Clip(t.Context(), id, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, data, again)
	assert.Equal(t, 1, e.clips, "cached clip must not re-encode")

	sub, err := m.Clip(t.Context(), id, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4-2-frames-1"), sub)
}

func TestClipValidation(t *testing.T) {
	m, store, _, _ := newTestMaterializer(t)
	id := seedJob(t, store, jobs.StateCompleted)

	cases := []struct{ start, end int }{
		{-1, 2},
		{0, 4},
		{2, 2},
		{2, 1},
	}
	for _, tc := range cases {
		_, err := m.Clip(t.Context(), id, tc.start, tc.end)
		assert.ErrorIs(t, err, ErrInvalidRange, "range [%d, %d)", tc.start, tc.end)
	}

	segID := seedJob(t, store, jobs.StateSegmented)
	_, err := m.Clip(t.Context(), segID, 0, 2)
	require.ErrorIs(t, err, jobs.ErrInvalidStateTransition)
}

func TestPurgeInvalidatesStaleRenders(t *testing.T) {
	store := jobs.NewMemoryStore()
	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	r := &stubRenderer{}
	m := NewMaterializer(store, fs, r, &stubEncoder{}, zap.NewNop())
	id := seedJob(t, store, jobs.StateCompleted)

	first, err := m.Frame(t.Context(), id, KindMaskAfter, 0)
	require.NoError(t, err)

	// A stage re-run replaces the job's masks and purges the blob cache;
	// the next request must re-render instead of serving the old bytes.
	maps := []masks.ProbabilityMap{flatMap(4, 4, 0.2), flatMap(4, 4, 0.2), flatMap(4, 4, 0.2)}
	seq, err := masks.NewSequence(maps)
	require.NoError(t, err)
	require.NoError(t, store.Update(id, func(j *jobs.Job) { j.After = seq }))
	require.NoError(t, fs.DeleteAll(t.Context(), id))

	second, err := m.Frame(t.Context(), id, KindMaskAfter, 0)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, r.encodes)
}

func TestFSStoreRoundTripAndDeleteAll(t *testing.T) {
	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	id := uuid.New()

	require.NoError(t, fs.Put(t.Context(), id, "a.png", []byte("x")))
	got, err := fs.Get(t.Context(), id, "a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	_, err = fs.Get(t.Context(), id, "missing.png")
	require.ErrorIs(t, err, ErrBlobNotFound)

	require.NoError(t, fs.DeleteAll(t.Context(), id))
	_, err = fs.Get(t.Context(), id, "a.png")
	require.ErrorIs(t, err, ErrBlobNotFound)

	// Deleting a job with no artifacts is a no-op.
	require.NoError(t, fs.DeleteAll(t.Context(), uuid.New()))
}
