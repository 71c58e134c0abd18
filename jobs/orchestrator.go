package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-maskstab/masks"
	"github.com/nvr-ai/go-maskstab/metrics"
	"github.com/nvr-ai/go-maskstab/segmentation"
	"github.com/nvr-ai/go-maskstab/stabilize"
	"github.com/nvr-ai/go-maskstab/telemetry"
	"github.com/nvr-ai/go-maskstab/video"
)

// ArtifactPurger removes every cached artifact derived from a job. The
// orchestrator calls it on delete so rendered frames and clips never outlive
// their source data.
type ArtifactPurger interface {
	DeleteAll(ctx context.Context, jobID uuid.UUID) error
}

// Config carries the orchestrator's optional collaborators. A nil Recorder
// skips durable persistence, a nil Purger skips artifact cleanup.
type Config struct {
	Recorder Recorder
	Purger   ArtifactPurger
}

// Orchestrator drives jobs through their lifecycle. Stage requests validate
// synchronously and return immediately; the heavy work runs on a background
// goroutine and reports through Status.
type Orchestrator struct {
	store     Store
	segmenter segmentation.Segmenter
	recorder  Recorder
	purger    ArtifactPurger
	logger    *zap.Logger

	mu   sync.Mutex
	busy map[uuid.UUID]bool
}

// NewOrchestrator wires the orchestrator over a store and a segmenter.
func NewOrchestrator(store Store, seg segmentation.Segmenter, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		segmenter: seg,
		recorder:  cfg.Recorder,
		purger:    cfg.Purger,
		logger:    logger,
		busy:      make(map[uuid.UUID]bool),
	}
}

// Upload registers a new video source as a job. The source is probed once
// for metadata; a source that cannot be probed is rejected and no job is
// created.
func (o *Orchestrator) Upload(ctx context.Context, src video.Source) (Status, error) {
	meta, err := src.Info(ctx)
	if err != nil {
		return Status{}, errors.Wrap(err, "probe video source")
	}

	job := NewJob(src, meta)
	o.store.Put(job)
	o.record(ctx, job)
	o.logger.Info("job uploaded",
		zap.String("job_id", job.ID.String()),
		zap.Int("width", meta.Width),
		zap.Int("height", meta.Height),
		zap.Float64("fps", meta.FPS),
		zap.Int("frames", meta.FrameCount))
	return job.snapshot(), nil
}

// Segment starts the segmentation stage for one target class. Re-running
// segmentation on an already segmented job is allowed and replaces the
// previous masks; any stabilization result from the old masks is dropped.
func (o *Orchestrator) Segment(ctx context.Context, id uuid.UUID, className string) (Status, error) {
	class, err := segmentation.Lookup(className)
	if err != nil {
		return Status{}, err
	}

	if err := o.acquire(id); err != nil {
		return Status{}, err
	}

	var st Status
	var stateErr error
	err = o.store.Update(id, func(j *Job) {
		if j.State != StateUploaded && j.State != StateSegmented && j.State != StateCompleted {
			stateErr = errors.Wrapf(ErrInvalidStateTransition, "cannot segment video in status: %s", j.State)
			return
		}
		j.TargetClass = class
		j.After = masks.Sequence{}
		j.Report = nil
		j.setStage(StateSegmenting, "segmentation started")
		st = j.snapshot()
	})
	if err == nil {
		err = stateErr
	}
	if err != nil {
		o.release(id)
		return Status{}, err
	}

	// The stage must outlive the request that started it.
	go o.runSegmentation(context.WithoutCancel(ctx), id, class)
	return st, nil
}

func (o *Orchestrator) runSegmentation(ctx context.Context, id uuid.UUID, class segmentation.Class) {
	defer o.release(id)

	ctx, span := otel.Tracer("maskstab").Start(ctx, "jobs.segment")
	span.SetAttributes(
		attribute.String("job.id", id.String()),
		attribute.String("job.class", class.Name))
	defer span.End()

	telemetry.ActiveStages.Inc()
	defer telemetry.ActiveStages.Dec()
	timer := time.Now()

	var src video.Source
	if err := o.store.View(id, func(j *Job) { src = j.Source }); err != nil {
		return
	}

	o.progress(id, 0.05, "decoding video")
	frames, err := src.Frames(ctx)
	if err != nil {
		o.fail(ctx, id, errors.Wrapf(ErrCollaboratorFailure, "decode video: %v", err))
		return
	}
	if len(frames) == 0 {
		o.fail(ctx, id, errors.Wrap(ErrCollaboratorFailure, "video has no decodable frames"))
		return
	}
	o.progress(id, 0.3, "segmenting frames")

	maps := make([]masks.ProbabilityMap, 0, len(frames))
	for i, f := range frames {
		m, err := o.segmenter.Segment(ctx, f.Image, class)
		if err != nil {
			// Partial results are never committed.
			o.fail(ctx, id, errors.Wrapf(ErrCollaboratorFailure, "segment frame %d: %v", i, err))
			return
		}
		maps = append(maps, m)
		telemetry.FramesSegmentedTotal.Inc()
		o.progress(id, 0.3+0.65*float64(i+1)/float64(len(frames)), "")
	}

	seq, err := masks.NewSequence(maps)
	if err != nil {
		o.fail(ctx, id, errors.Wrapf(ErrCollaboratorFailure, "assemble mask sequence: %v", err))
		return
	}

	err = o.store.Update(id, func(j *Job) {
		j.Frames = frames
		j.Before = seq
		j.Meta.FrameCount = len(frames)
		j.setStage(StateSegmented, "segmentation complete")
		j.Progress = 1
	})
	if errors.Is(err, ErrJobNotFound) {
		// Deleted mid-stage: the result is discarded.
		o.logger.Info("segmentation result discarded, job deleted", zap.String("job_id", id.String()))
		return
	}
	// Every cached artifact was rendered from the replaced masks.
	o.purge(ctx, id)

	telemetry.StageDuration.WithLabelValues("segmentation").Observe(time.Since(timer).Seconds())
	telemetry.JobsProcessedTotal.WithLabelValues("segmented").Inc()
	o.persist(ctx, id)
	o.logger.Info("segmentation complete",
		zap.String("job_id", id.String()),
		zap.String("class", class.Name),
		zap.Int("frames", len(frames)),
		zap.Duration("elapsed", time.Since(timer)))
}

// Stabilize starts the stabilization stage. Re-running with different
// parameters on a completed job is allowed and replaces the previous result.
func (o *Orchestrator) Stabilize(ctx context.Context, id uuid.UUID, method stabilize.Method, params stabilize.Params) (Status, error) {
	if err := params.Validate(method); err != nil {
		return Status{}, err
	}

	if err := o.acquire(id); err != nil {
		return Status{}, err
	}

	var st Status
	var stateErr error
	err := o.store.Update(id, func(j *Job) {
		if j.State != StateSegmented && j.State != StateCompleted {
			stateErr = errors.Wrapf(ErrInvalidStateTransition, "cannot stabilize video in status: %s", j.State)
			return
		}
		j.Method = method
		j.Params = params
		j.setStage(StateStabilizing, "stabilization started")
		st = j.snapshot()
	})
	if err == nil {
		err = stateErr
	}
	if err != nil {
		o.release(id)
		return Status{}, err
	}

	go o.runStabilization(context.WithoutCancel(ctx), id, method, params)
	return st, nil
}

func (o *Orchestrator) runStabilization(ctx context.Context, id uuid.UUID, method stabilize.Method, params stabilize.Params) {
	defer o.release(id)

	ctx, span := otel.Tracer("maskstab").Start(ctx, "jobs.stabilize")
	span.SetAttributes(
		attribute.String("job.id", id.String()),
		attribute.String("job.method", string(method)))
	defer span.End()

	telemetry.ActiveStages.Inc()
	defer telemetry.ActiveStages.Dec()
	timer := time.Now()

	var before masks.Sequence
	if err := o.store.View(id, func(j *Job) { before = j.Before }); err != nil {
		return
	}

	o.progress(id, 0.1, "filtering mask sequence")
	result, err := stabilize.Apply(before, method, params)
	if err != nil {
		o.fail(ctx, id, errors.Wrapf(ErrCollaboratorFailure, "apply %s filter: %v", method, err))
		return
	}

	o.progress(id, 0.7, "computing metrics")
	rawBits := before.Binarized(masks.DefaultThreshold)
	outBits := result.Sequence.Binarized(masks.DefaultThreshold)

	// A completed job always carries a report; a sequence too short to
	// measure fails the stage instead of completing without one.
	seriesBefore, err := metrics.TemporalSeries(rawBits)
	if err != nil {
		o.fail(ctx, id, errors.Wrap(err, "temporal consistency before stabilization"))
		return
	}
	seriesAfter, err := metrics.TemporalSeries(outBits)
	if err != nil {
		o.fail(ctx, id, errors.Wrap(err, "temporal consistency after stabilization"))
		return
	}
	r := metrics.Compare(seriesBefore, seriesAfter)
	report := &r

	err = o.store.Update(id, func(j *Job) {
		j.After = result.Sequence
		j.Method = method
		j.Params = params
		j.Report = report
		j.setStage(StateCompleted, "stabilization complete")
		j.Progress = 1
	})
	if errors.Is(err, ErrJobNotFound) {
		o.logger.Info("stabilization result discarded, job deleted", zap.String("job_id", id.String()))
		return
	}
	// Stabilized-mask artifacts and clips now show a replaced sequence.
	o.purge(ctx, id)

	telemetry.StageDuration.WithLabelValues("stabilization").Observe(time.Since(timer).Seconds())
	telemetry.JobsProcessedTotal.WithLabelValues("completed").Inc()
	o.persist(ctx, id)
	o.logger.Info("stabilization complete",
		zap.String("job_id", id.String()),
		zap.String("method", string(method)),
		zap.Duration("elapsed", time.Since(timer)))
}

// Status reports a job's current snapshot. Safe to call at any time and any
// number of times; it never changes the job.
func (o *Orchestrator) Status(id uuid.UUID) (Status, error) {
	var st Status
	if err := o.store.View(id, func(j *Job) { st = j.snapshot() }); err != nil {
		return Status{}, err
	}
	return st, nil
}

// List returns the ids of all live jobs.
func (o *Orchestrator) List() []uuid.UUID {
	return o.store.List()
}

// Delete removes a job and its cached artifacts. Deleting while a stage is
// running is allowed: the stage's eventual commit hits a missing job and is
// dropped.
func (o *Orchestrator) Delete(ctx context.Context, id uuid.UUID) error {
	if !o.store.Delete(id) {
		return ErrJobNotFound
	}
	o.purge(ctx, id)
	o.logger.Info("job deleted", zap.String("job_id", id.String()))
	return nil
}

// purge drops every cached artifact derived from the job. Called whenever
// the masks an artifact was rendered from stop being current: a stage commit
// that replaced them, or job deletion.
func (o *Orchestrator) purge(ctx context.Context, id uuid.UUID) {
	if o.purger == nil {
		return
	}
	if err := o.purger.DeleteAll(ctx, id); err != nil {
		o.logger.Warn("artifact purge failed",
			zap.String("job_id", id.String()), zap.Error(err))
	}
}

// acquire marks a job busy for the duration of a stage.
func (o *Orchestrator) acquire(id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy[id] {
		return errors.Wrapf(ErrJobBusy, "job %s has a stage in progress", id)
	}
	o.busy[id] = true
	return nil
}

func (o *Orchestrator) release(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.busy, id)
}

func (o *Orchestrator) progress(id uuid.UUID, p float64, msg string) {
	_ = o.store.Update(id, func(j *Job) { j.advance(p, msg) })
}

// fail moves a job into the terminal failed state. The job and its data stay
// queryable until explicitly deleted.
func (o *Orchestrator) fail(ctx context.Context, id uuid.UUID, cause error) {
	err := o.store.Update(id, func(j *Job) { j.markFailed(cause) })
	if errors.Is(err, ErrJobNotFound) {
		return
	}
	telemetry.JobsProcessedTotal.WithLabelValues("failed").Inc()
	o.persist(ctx, id)
	o.logger.Error("stage failed", zap.String("job_id", id.String()), zap.Error(cause))
}

// persist pushes the job's durable record to the recorder, if configured.
func (o *Orchestrator) persist(ctx context.Context, id uuid.UUID) {
	if o.recorder == nil {
		return
	}
	var rec Record
	if err := o.store.View(id, func(j *Job) { rec = j.record() }); err != nil {
		return
	}
	if err := o.recorder.Save(ctx, rec); err != nil {
		o.logger.Warn("job record save failed",
			zap.String("job_id", id.String()), zap.Error(err))
	}
}

func (o *Orchestrator) record(ctx context.Context, j *Job) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Save(ctx, j.record()); err != nil {
		o.logger.Warn("job record save failed",
			zap.String("job_id", j.ID.String()), zap.Error(err))
	}
}
