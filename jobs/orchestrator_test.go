package jobs

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-maskstab/masks"
	"github.com/nvr-ai/go-maskstab/segmentation"
	"github.com/nvr-ai/go-maskstab/stabilize"
	"github.com/nvr-ai/go-maskstab/video"
)

// fakeSource serves a fixed number of tiny frames without touching a codec.
type fakeSource struct {
	meta      video.Metadata
	frameErr  error
	infoErr   error
	served    int
	releaseCh chan struct{}
}

func newFakeSource(frames int) *fakeSource {
	return &fakeSource{meta: video.Metadata{
		Width: 4, Height: 4, FPS: 30, FrameCount: frames,
	}}
}

func (s *fakeSource) Info(ctx context.Context) (video.Metadata, error) {
	if s.infoErr != nil {
		return video.Metadata{}, s.infoErr
	}
	return s.meta, nil
}

func (s *fakeSource) Frames(ctx context.Context) ([]video.Frame, error) {
	if s.releaseCh != nil {
		<-s.releaseCh
	}
	if s.frameErr != nil {
		return nil, s.frameErr
	}
	out := make([]video.Frame, s.meta.FrameCount)
	for i := range out {
		out[i] = video.Frame{Index: i, Image: image.NewRGBA(image.Rect(0, 0, 4, 4))}
	}
	s.served = s.meta.FrameCount
	return out, nil
}

// flickerSegmenter alternates between two disjoint masks so raw temporal
// IoU is zero and any smoothing filter measurably improves it.
type flickerSegmenter struct {
	mu     sync.Mutex
	calls  int
	err    error
	failAt int
}

func (f *flickerSegmenter) Segment(ctx context.Context, frame image.Image, target segmentation.Class) (masks.ProbabilityMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	if f.err != nil && call >= f.failAt {
		return masks.ProbabilityMap{}, f.err
	}
	m := masks.NewProbabilityMap(4, 4)
	if call%2 == 0 {
		m.Set(0, 0, 1)
		m.Set(1, 0, 1)
	} else {
		m.Set(2, 2, 1)
		m.Set(3, 2, 1)
	}
	return m, nil
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (r *memoryRecorder) Save(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *memoryRecorder) last() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return Record{}, false
	}
	return r.records[len(r.records)-1], true
}

type memoryPurger struct {
	mu     sync.Mutex
	purged []uuid.UUID
}

func (p *memoryPurger) DeleteAll(ctx context.Context, jobID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purged = append(p.purged, jobID)
	return nil
}

func (p *memoryPurger) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.purged)
}

func newTestOrchestrator(seg segmentation.Segmenter, cfg Config) *Orchestrator {
	return NewOrchestrator(NewMemoryStore(), seg, cfg, zap.NewNop())
}

func waitForState(t *testing.T, o *Orchestrator, id uuid.UUID, want State) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		var err error
		st, err = o.Status(id)
		if err != nil {
			return false
		}
		return st.State == want
	}, 5*time.Second, 5*time.Millisecond, "job never reached state %s, last: %s (%s)", want, st.State, st.Error)
	return st
}

func TestFullLifecycle(t *testing.T) {
	rec := &memoryRecorder{}
	o := newTestOrchestrator(&flickerSegmenter{}, Config{Recorder: rec})

	st, err := o.Upload(t.Context(), newFakeSource(150))
	require.NoError(t, err)
	require.Equal(t, StateUploaded, st.State)
	assert.Equal(t, 30.0, st.Meta.FPS)

	st, err = o.Segment(t.Context(), st.ID, "person")
	require.NoError(t, err)
	assert.Equal(t, StateSegmenting, st.State)

	st = waitForState(t, o, st.ID, StateSegmented)
	assert.Equal(t, "person", st.TargetClass)
	assert.Equal(t, 1.0, st.Progress)
	assert.Equal(t, 150, st.Meta.FrameCount)

	st, err = o.Stabilize(t.Context(), st.ID, stabilize.MovingAverage, stabilize.DefaultParams(stabilize.MovingAverage))
	require.NoError(t, err)
	assert.Equal(t, StateStabilizing, st.State)

	st = waitForState(t, o, st.ID, StateCompleted)
	require.NotNil(t, st.Report)
	assert.Equal(t, 0.0, st.Report.IoUBefore.Mean, "disjoint flicker has zero raw consistency")
	assert.Greater(t, st.Report.IoUAfter.Mean, st.Report.IoUBefore.Mean)
	assert.Greater(t, st.Report.Improvement.IoUImprovement, 0.0)

	last, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, string(StateCompleted), last.State)
	assert.NotEmpty(t, last.Report)
}

func TestStabilizeRequiresSegmentation(t *testing.T) {
	o := newTestOrchestrator(&flickerSegmenter{}, Config{})

	st, err := o.Upload(t.Context(), newFakeSource(4))
	require.NoError(t, err)

	_, err = o.Stabilize(t.Context(), st.ID, stabilize.MedianFilter, stabilize.DefaultParams(stabilize.MedianFilter))
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Contains(t, err.Error(), "uploaded")

	// The rejected request must leave the job untouched.
	got, err := o.Status(st.ID)
	require.NoError(t, err)
	assert.Equal(t, StateUploaded, got.State)
}

func TestSegmentUnknownClass(t *testing.T) {
	o := newTestOrchestrator(&flickerSegmenter{}, Config{})

	st, err := o.Upload(t.Context(), newFakeSource(4))
	require.NoError(t, err)

	_, err = o.Segment(t.Context(), st.ID, "unicorn")
	require.ErrorIs(t, err, segmentation.ErrUnknownClass)

	got, err := o.Status(st.ID)
	require.NoError(t, err)
	assert.Equal(t, StateUploaded, got.State)
}

func TestInvalidParamsRejectedSynchronously(t *testing.T) {
	o := newTestOrchestrator(&flickerSegmenter{}, Config{})

	st, err := o.Upload(t.Context(), newFakeSource(4))
	require.NoError(t, err)

	_, err = o.Stabilize(t.Context(), st.ID, stabilize.MovingAverage, stabilize.Params{WindowSize: 4})
	require.ErrorIs(t, err, stabilize.ErrInvalidParameter)
}

func TestJobBusy(t *testing.T) {
	src := newFakeSource(4)
	src.releaseCh = make(chan struct{})
	o := newTestOrchestrator(&flickerSegmenter{}, Config{})

	st, err := o.Upload(t.Context(), src)
	require.NoError(t, err)

	_, err = o.Segment(t.Context(), st.ID, "car")
	require.NoError(t, err)

	_, err = o.Segment(t.Context(), st.ID, "car")
	require.ErrorIs(t, err, ErrJobBusy)
	_, err = o.Stabilize(t.Context(), st.ID, stabilize.MovingAverage, stabilize.DefaultParams(stabilize.MovingAverage))
	require.ErrorIs(t, err, ErrJobBusy)

	close(src.releaseCh)
	waitForState(t, o, st.ID, StateSegmented)

	// The slot frees once the stage lands.
	_, err = o.Stabilize(t.Context(), st.ID, stabilize.MovingAverage, stabilize.DefaultParams(stabilize.MovingAverage))
	require.NoError(t, err)
	waitForState(t, o, st.ID, StateCompleted)
}

func TestSegmenterFailureMarksJobFailed(t *testing.T) {
	seg := &flickerSegmenter{err: errors.New("inference session crashed"), failAt: 2}
	o := newTestOrchestrator(seg, Config{})

	st, err := o.Upload(t.Context(), newFakeSource(6))
	require.NoError(t, err)
	_, err = o.Segment(t.Context(), st.ID, "dog")
	require.NoError(t, err)

	got := waitForState(t, o, st.ID, StateFailed)
	assert.Contains(t, got.Error, "inference session crashed")
	assert.Contains(t, got.Error, "collaborator failure")

	// Failure is terminal: no partial masks, no further stages.
	_, err = o.Stabilize(t.Context(), st.ID, stabilize.MovingAverage, stabilize.DefaultParams(stabilize.MovingAverage))
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestStatusIsIdempotent(t *testing.T) {
	o := newTestOrchestrator(&flickerSegmenter{}, Config{})

	st, err := o.Upload(t.Context(), newFakeSource(5))
	require.NoError(t, err)
	_, err = o.Segment(t.Context(), st.ID, "person")
	require.NoError(t, err)
	waitForState(t, o, st.ID, StateSegmented)

	first, err := o.Status(st.ID)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := o.Status(st.ID)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDeleteDuringStageDiscardsResult(t *testing.T) {
	src := newFakeSource(4)
	src.releaseCh = make(chan struct{})
	purger := &memoryPurger{}
	o := newTestOrchestrator(&flickerSegmenter{}, Config{Purger: purger})

	st, err := o.Upload(t.Context(), src)
	require.NoError(t, err)
	_, err = o.Segment(t.Context(), st.ID, "person")
	require.NoError(t, err)

	require.NoError(t, o.Delete(t.Context(), st.ID))
	assert.Equal(t, []uuid.UUID{st.ID}, purger.purged)

	close(src.releaseCh)

	// The in-flight stage finishes against a deleted job and its commit is
	// dropped without resurrecting the id.
	require.Eventually(t, func() bool {
		_, err := o.Status(st.ID)
		return errors.Is(err, ErrJobNotFound)
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	_, err = o.Status(st.ID)
	require.ErrorIs(t, err, ErrJobNotFound)
	assert.Empty(t, o.List())
}

func TestDeleteUnknownJob(t *testing.T) {
	o := newTestOrchestrator(&flickerSegmenter{}, Config{})
	err := o.Delete(t.Context(), uuid.New())
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestFailingRecorderDoesNotFailStage(t *testing.T) {
	rec := &memoryRecorder{err: errors.New("database unreachable")}
	o := newTestOrchestrator(&flickerSegmenter{}, Config{Recorder: rec})

	st, err := o.Upload(t.Context(), newFakeSource(4))
	require.NoError(t, err)
	_, err = o.Segment(t.Context(), st.ID, "person")
	require.NoError(t, err)
	waitForState(t, o, st.ID, StateSegmented)
}

func TestResegmentReplacesResult(t *testing.T) {
	o := newTestOrchestrator(&flickerSegmenter{}, Config{})

	st, err := o.Upload(t.Context(), newFakeSource(6))
	require.NoError(t, err)
	_, err = o.Segment(t.Context(), st.ID, "person")
	require.NoError(t, err)
	waitForState(t, o, st.ID, StateSegmented)

	_, err = o.Stabilize(t.Context(), st.ID, stabilize.MovingAverage, stabilize.DefaultParams(stabilize.MovingAverage))
	require.NoError(t, err)
	waitForState(t, o, st.ID, StateCompleted)

	// Re-segmenting with a new class drops the stale stabilization output.
	_, err = o.Segment(t.Context(), st.ID, "car")
	require.NoError(t, err)
	got := waitForState(t, o, st.ID, StateSegmented)
	assert.Equal(t, "car", got.TargetClass)
	assert.Nil(t, got.Report)
}

func TestStageCommitPurgesStaleArtifacts(t *testing.T) {
	purger := &memoryPurger{}
	o := newTestOrchestrator(&flickerSegmenter{}, Config{Purger: purger})

	st, err := o.Upload(t.Context(), newFakeSource(6))
	require.NoError(t, err)

	waitForPurges := func(want int) {
		t.Helper()
		require.Eventually(t, func() bool { return purger.count() == want },
			5*time.Second, 5*time.Millisecond, "expected %d artifact purges", want)
	}

	_, err = o.Segment(t.Context(), st.ID, "person")
	require.NoError(t, err)
	waitForState(t, o, st.ID, StateSegmented)
	waitForPurges(1)

	_, err = o.Stabilize(t.Context(), st.ID, stabilize.MovingAverage, stabilize.DefaultParams(stabilize.MovingAverage))
	require.NoError(t, err)
	waitForState(t, o, st.ID, StateCompleted)
	waitForPurges(2)

	// Re-running with a different method replaces the stabilized masks, so
	// artifacts rendered from the old ones must not survive.
	_, err = o.Stabilize(t.Context(), st.ID, stabilize.MedianFilter, stabilize.DefaultParams(stabilize.MedianFilter))
	require.NoError(t, err)
	waitForState(t, o, st.ID, StateCompleted)
	waitForPurges(3)
}

func TestStabilizeSingleFrameFails(t *testing.T) {
	o := newTestOrchestrator(&flickerSegmenter{}, Config{})

	st, err := o.Upload(t.Context(), newFakeSource(1))
	require.NoError(t, err)
	_, err = o.Segment(t.Context(), st.ID, "person")
	require.NoError(t, err)
	waitForState(t, o, st.ID, StateSegmented)

	// One frame segments fine but yields no consecutive pair to measure, so
	// the job must fail instead of completing without a report.
	_, err = o.Stabilize(t.Context(), st.ID, stabilize.MovingAverage, stabilize.DefaultParams(stabilize.MovingAverage))
	require.NoError(t, err)
	got := waitForState(t, o, st.ID, StateFailed)
	assert.Contains(t, got.Error, "insufficient frames")
	assert.Nil(t, got.Report)
}

func TestUploadProbeFailure(t *testing.T) {
	src := newFakeSource(4)
	src.infoErr = errors.New("container not decodable")
	o := newTestOrchestrator(&flickerSegmenter{}, Config{})

	_, err := o.Upload(t.Context(), src)
	require.Error(t, err)
	assert.Empty(t, o.List(), "failed upload must not leave a job behind")
}
