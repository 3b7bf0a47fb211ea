package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeyg42/videoscope/internal/config"
	"github.com/mikeyg42/videoscope/internal/emotion"
	"github.com/mikeyg42/videoscope/internal/faces"
	"github.com/mikeyg42/videoscope/internal/motion"
	"github.com/mikeyg42/videoscope/internal/notify"
	"github.com/mikeyg42/videoscope/internal/pipeline"
	"github.com/mikeyg42/videoscope/internal/report"
	"github.com/mikeyg42/videoscope/internal/storage"
	"github.com/mikeyg42/videoscope/internal/video"
	"github.com/mikeyg42/videoscope/internal/vision"
)

const persistTimeout = 2 * time.Minute

// Application holds every component of one analysis run.
type Application struct {
	config *config.Config
	runID  string
	logger *zap.Logger

	source    video.Source
	writer    *video.Writer
	extractor *motion.Extractor
	faces     pipeline.FaceDetector
	emotion   pipeline.EmotionClassifier
	notifier  notify.Notifier
	sinks     *storage.Multi

	closers []func() error
}

// NewApplication opens the input and output videos and wires the optional
// components. Only the videos and the motion extractor are fatal; optional
// components that fail to start are disabled with a warning.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	app := &Application{
		config: cfg,
		runID:  uuid.NewString(),
		logger: zap.L().Named("app"),
	}
	app.logger.Info("Starting run", zap.String("run_id", app.runID), zap.String("input", cfg.Video.Input))

	src, err := video.Open(cfg.Video.Input, cfg.Video.FallbackFPS)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	app.source = src
	app.closers = append(app.closers, src.Close)

	props := src.Props()
	if props.FPS <= 0 {
		app.logger.Warn("Input reports no frame rate, using fallback", zap.Float64("fps", cfg.Video.FallbackFPS))
		props.FPS = cfg.Video.FallbackFPS
	}

	writer, err := video.CreateWriter(cfg.Video.Output, cfg.Video.Codec, props.FPS, props.Width, props.Height)
	if err != nil {
		app.Cleanup()
		return nil, fmt.Errorf("failed to create output video: %w", err)
	}
	app.writer = writer

	extractor, err := motion.NewExtractor(cfg.Motion, cfg.Activity)
	if err != nil {
		app.Cleanup()
		return nil, fmt.Errorf("failed to create motion extractor: %w", err)
	}
	app.extractor = extractor
	app.closers = append(app.closers, extractor.Close)

	app.faces = app.buildFaces()
	app.emotion = app.buildEmotion()
	app.notifier = app.buildNotifier(ctx)
	app.closers = append(app.closers, app.notifier.Close)
	app.sinks = app.buildSinks(ctx)

	return app, nil
}

func (app *Application) buildFaces() pipeline.FaceDetector {
	if !app.config.Faces.Enabled {
		return faces.Disabled{}
	}
	d, err := faces.NewYuNet(app.config.Faces)
	if err != nil {
		app.logger.Warn("Face detection disabled", zap.Error(err))
		return faces.Disabled{}
	}
	app.closers = append(app.closers, d.Close)
	return d
}

func (app *Application) buildEmotion() pipeline.EmotionClassifier {
	cfg := app.config.Emotion
	logger := zap.L().Named("emotion")
	opts := emotion.Options{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,

		RequestsPerMinute: cfg.RequestsPerMinute,
	}

	var (
		c   emotion.Classifier
		err error
	)
	switch cfg.Provider {
	case "openai":
		c, err = emotion.NewOpenAI(opts)
	case "gemini":
		c, err = emotion.NewGemini(opts)
	case "onnx":
		f, ferr := vision.NewFERPlus(cfg.ONNXModelPath, logger)
		if ferr != nil {
			app.logger.Warn("Emotion analysis disabled", zap.String("provider", cfg.Provider), zap.Error(ferr))
			return vision.Disabled{}
		}
		app.closers = append(app.closers, f.Close)
		return f
	default:
		return vision.Disabled{}
	}
	if err != nil {
		app.logger.Warn("Emotion analysis disabled", zap.String("provider", cfg.Provider), zap.Error(err))
		return vision.Disabled{}
	}
	return vision.NewRemote(c, cfg.JPEGQuality, logger)
}

func (app *Application) buildNotifier(ctx context.Context) notify.Notifier {
	if app.config.Notify.WebSocketURL == "" {
		return notify.Nop{}
	}
	ws, err := notify.Dial(ctx, app.config.Notify, app.runID)
	if err != nil {
		app.logger.Warn("Anomaly notifications disabled", zap.Error(err))
		return notify.Nop{}
	}
	return ws
}

func (app *Application) buildSinks(ctx context.Context) *storage.Multi {
	m := storage.NewMulti(zap.L().Named("storage"))
	if app.config.HasSink("file") {
		m.Add("file", storage.NewFileSink(app.config.Report.Path))
	}
	if app.config.HasSink("minio") {
		s, err := storage.NewMinIOSink(ctx, app.config.Storage.MinIO, app.config.Report.UploadVideo)
		if err != nil {
			app.logger.Error("MinIO report sink unavailable", zap.Error(err))
		} else {
			m.Add("minio", s)
		}
	}
	if app.config.HasSink("postgres") {
		s, err := storage.NewPostgresSink(ctx, app.config.Storage.Postgres)
		if err != nil {
			app.logger.Error("PostgreSQL report sink unavailable", zap.Error(err))
		} else {
			m.Add("postgres", s)
			app.closers = append(app.closers, s.Close)
		}
	}
	return m
}

// Run analyses the whole input, finalises the output video and persists the
// report. The report is written even when ctx is cancelled mid-run.
func (app *Application) Run(ctx context.Context) (pipeline.Result, error) {
	props := app.source.Props()
	fps := props.FPS
	if fps <= 0 {
		fps = app.config.Video.FallbackFPS
	}

	orch, err := pipeline.New(pipeline.Deps{
		Source:   app.source,
		Sink:     app.writer,
		Motion:   app.extractor,
		Faces:    app.faces,
		Emotion:  app.emotion,
		Notifier: app.notifier,
		Logger:   zap.L().Named("pipeline"),
	}, pipeline.Options{
		FPS:           fps,
		TotalFrames:   props.TotalFrames,
		Sampling:      app.config.Sampling,
		Anomaly:       app.config.Anomaly,
		ProgressEvery: app.config.Pipeline.ProgressEvery,
		DrawFaceBoxes: app.config.Faces.DrawBoxes,
	})
	if err != nil {
		return pipeline.Result{}, err
	}

	res, runErr := orch.Run(ctx)
	if runErr != nil && !res.Interrupted {
		return res, runErr
	}

	if err := app.writer.Close(); err != nil {
		return res, fmt.Errorf("failed to finalize output video: %w", err)
	}
	app.writer = nil

	// ctx may already be cancelled; the report still has to go out.
	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	rep := report.New(report.RunMeta{
		RunID:       app.runID,
		InputVideo:  app.config.Video.Input,
		OutputVideo: app.config.Video.Output,
		Interrupted: res.Interrupted,
	}, res.Context, res.Processed, fps, time.Now())

	if err := app.sinks.Persist(pctx, rep); err != nil {
		return res, fmt.Errorf("failed to persist report: %w", err)
	}
	if err := app.notifier.NotifyCompleted(pctx, rep); err != nil {
		app.logger.Warn("Completion notification failed", zap.Error(err))
	}

	app.logger.Info("Run complete",
		zap.String("run_id", app.runID),
		zap.Int("frames", res.Processed),
		zap.Int("anomalies", rep.AnomaliesCount),
		zap.Bool("interrupted", res.Interrupted),
		zap.Duration("elapsed", res.Elapsed))
	return res, runErr
}

// Cleanup releases everything in reverse order of acquisition.
func (app *Application) Cleanup() {
	if app.writer != nil {
		if err := app.writer.Close(); err != nil {
			app.logger.Warn("Failed to close output video", zap.Error(err))
		}
		app.writer = nil
	}
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Warn("Cleanup failed", zap.Error(err))
		}
	}
	app.closers = nil
}
