package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-maskstab/artifacts"
	"github.com/nvr-ai/go-maskstab/config"
	"github.com/nvr-ai/go-maskstab/jobs"
	"github.com/nvr-ai/go-maskstab/logger"
	"github.com/nvr-ai/go-maskstab/render"
	"github.com/nvr-ai/go-maskstab/segmentation"
	"github.com/nvr-ai/go-maskstab/stabilize"
	"github.com/nvr-ai/go-maskstab/telemetry"
	"github.com/nvr-ai/go-maskstab/video"
)

func main() {
	var (
		videoPath = flag.String("video", "", "input video file to stabilize")
		className = flag.String("class", "person", "target segmentation class")
		method    = flag.String("method", "moving_average", "stabilization method: moving_average, median_filter, exponential_smoothing, bilateral_temporal")
		window    = flag.Int("window", 0, "filter window size (odd, 3-9; 0 uses the method default)")
		alpha     = flag.Float64("alpha", 0, "exponential smoothing factor (0.1-0.9; 0 uses the default)")
		sigmaT    = flag.Float64("sigma-t", 0, "bilateral temporal sigma (0 uses the default)")
		sigmaI    = flag.Float64("sigma-i", 0, "bilateral intensity sigma (0 uses the default)")
		clipRange = flag.String("range", "", "optional frame range START:END to export, defaults to the whole video")
		outPath   = flag.String("out", "comparison.mp4", "output path for the comparison clip")
	)
	flag.Parse()

	if *videoPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if cfg.OTLPEndpoint != "" {
		tp, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint)
		if err != nil {
			log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
		}
	}

	metricsSrv := telemetry.StartMetricsServer(cfg.MetricsPort, log)
	defer metricsSrv.Close()

	blobs, err := newBlobStore(ctx, cfg)
	fatalOnErr(err, "create blob store")

	var recorder jobs.Recorder
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		fatalOnErr(err, "connect to postgres")
		defer pool.Close()

		pg := jobs.NewPostgresRecorder(pool)
		fatalOnErr(pg.EnsureSchema(ctx), "ensure postgres schema")
		recorder = pg
	}

	segmenter, err := segmentation.NewDeepLab(segmentation.DeepLabConfig{
		ModelPath:   cfg.ModelPath,
		LibraryPath: cfg.OnnxRuntimeLib,
	})
	fatalOnErr(err, "load segmentation model")
	defer segmenter.Close()

	store := jobs.NewMemoryStore()
	orch := jobs.NewOrchestrator(store, segmenter, jobs.Config{
		Recorder: recorder,
		Purger:   blobs,
	}, log)
	mat := artifacts.NewMaterializer(store, blobs, render.New(), video.ClipWriter{}, log)

	fatalOnErr(run(ctx, orch, mat, runOptions{
		videoPath: *videoPath,
		className: *className,
		method:    *method,
		window:    *window,
		alpha:     *alpha,
		sigmaT:    *sigmaT,
		sigmaI:    *sigmaI,
		clipRange: *clipRange,
		outPath:   *outPath,
	}, log), "stabilization pipeline")
}

type runOptions struct {
	videoPath string
	className string
	method    string
	window    int
	alpha     float64
	sigmaT    float64
	sigmaI    float64
	clipRange string
	outPath   string
}

func run(ctx context.Context, orch *jobs.Orchestrator, mat *artifacts.Materializer, opts runOptions, log *zap.Logger) error {
	method, err := stabilize.ParseMethod(opts.method)
	if err != nil {
		return err
	}
	params := stabilize.DefaultParams(method)
	if opts.window != 0 {
		params.WindowSize = opts.window
	}
	if opts.alpha != 0 {
		params.Alpha = float32(opts.alpha)
	}
	if opts.sigmaT != 0 {
		params.SigmaTemporal = float32(opts.sigmaT)
	}
	if opts.sigmaI != 0 {
		params.SigmaIntensity = float32(opts.sigmaI)
	}

	src, err := video.NewFileSource(opts.videoPath)
	if err != nil {
		return err
	}

	st, err := orch.Upload(ctx, src)
	if err != nil {
		return err
	}
	log.Info("uploaded",
		zap.String("job_id", st.ID.String()),
		zap.Int("frames", st.Meta.FrameCount),
		zap.Float64("fps", st.Meta.FPS))

	if _, err := orch.Segment(ctx, st.ID, opts.className); err != nil {
		return err
	}
	st, err = waitForStage(ctx, orch, st.ID, jobs.StateSegmented, log)
	if err != nil {
		return err
	}

	if _, err := orch.Stabilize(ctx, st.ID, method, params); err != nil {
		return err
	}
	st, err = waitForStage(ctx, orch, st.ID, jobs.StateCompleted, log)
	if err != nil {
		return err
	}

	report, err := json.MarshalIndent(st.Report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(report))

	start, end := 0, st.Meta.FrameCount
	if opts.clipRange != "" {
		if start, end, err = parseRange(opts.clipRange); err != nil {
			return err
		}
	}
	clip, err := mat.Clip(ctx, st.ID, start, end)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.outPath, clip, 0o644); err != nil {
		return err
	}
	log.Info("comparison clip written",
		zap.String("path", opts.outPath), zap.Int("bytes", len(clip)))
	return nil
}

// waitForStage polls status until the job reaches the wanted state or fails.
func waitForStage(ctx context.Context, orch *jobs.Orchestrator, id uuid.UUID, want jobs.State, log *zap.Logger) (jobs.Status, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	lastProgress := -1.0
	for {
		select {
		case <-ctx.Done():
			return jobs.Status{}, ctx.Err()
		case <-ticker.C:
		}

		st, err := orch.Status(id)
		if err != nil {
			return jobs.Status{}, err
		}
		if st.Progress != lastProgress {
			lastProgress = st.Progress
			log.Info("stage progress",
				zap.String("status", string(st.State)),
				zap.Float64("progress", st.Progress),
				zap.String("message", st.Message))
		}
		switch st.State {
		case want:
			return st, nil
		case jobs.StateFailed:
			return jobs.Status{}, fmt.Errorf("job failed: %s", st.Error)
		}
	}
}

func parseRange(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("range must be START:END, got %q", s)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad range start %q", parts[0])
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad range end %q", parts[1])
	}
	return start, end, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (artifacts.BlobStore, error) {
	switch cfg.BlobBackend {
	case "minio":
		return artifacts.NewMinioStore(ctx, artifacts.MinioConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			UseSSL:    cfg.MinIOUseSSL,
			Bucket:    cfg.MinIOBucket,
		})
	case "fs":
		return artifacts.NewFSStore(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}
