// Package pipeline runs the single pass over a video: per-frame face
// detection, sampled emotion and motion analysis, anomaly gating, overlays
// and output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/videoscope/internal/activity"
	"github.com/mikeyg42/videoscope/internal/aggregate"
	"github.com/mikeyg42/videoscope/internal/anomaly"
	"github.com/mikeyg42/videoscope/internal/config"
	"github.com/mikeyg42/videoscope/internal/emotion"
	"github.com/mikeyg42/videoscope/internal/faces"
	"github.com/mikeyg42/videoscope/internal/overlay"
	"github.com/mikeyg42/videoscope/internal/sampling"
)

// FrameSource yields frames in order and returns io.EOF at the end.
type FrameSource interface {
	Read(dst *gocv.Mat) error
}

// FrameSink receives every annotated frame.
type FrameSink interface {
	Write(frame gocv.Mat) error
}

// FaceDetector finds faces in a raw frame.
type FaceDetector interface {
	Detect(frame gocv.Mat) ([]faces.Box, error)
}

// EmotionClassifier labels a face crop. Failures are reported as ok=false.
type EmotionClassifier interface {
	Analyze(ctx context.Context, face gocv.Mat) (emotion.Result, bool)
}

// MotionAnalyzer scores a frame against the previously analysed one.
type MotionAnalyzer interface {
	Analyze(frame gocv.Mat) (activity.Label, float64, error)
}

// AnomalyNotifier is told about every accepted anomaly as it happens.
type AnomalyNotifier interface {
	NotifyAnomaly(ctx context.Context, ev aggregate.AnomalyEvent) error
}

// Deps are the collaborators of an Orchestrator. Source, Sink and Motion are
// required; the rest default to no-ops.
type Deps struct {
	Source   FrameSource
	Sink     FrameSink
	Motion   MotionAnalyzer
	Faces    FaceDetector
	Emotion  EmotionClassifier
	Notifier AnomalyNotifier
	Logger   *zap.Logger
}

// Options are the per-run settings.
type Options struct {
	// FPS of the source; <= 0 means unknown (timestamps 0, no cooldown).
	FPS float64
	// TotalFrames is advisory, 0 when unknown.
	TotalFrames int

	Sampling      config.SamplingConfig
	Anomaly       anomaly.Config
	ProgressEvery int
	DrawFaceBoxes bool
}

// Result is what a run produced.
type Result struct {
	Processed   int
	FPS         float64
	Context     *aggregate.Context
	Interrupted bool
	Elapsed     time.Duration
}

// Orchestrator owns all per-run state. It is single-use and not safe for
// concurrent use.
type Orchestrator struct {
	deps     Deps
	opts     Options
	gate     sampling.Gate
	state    *sampling.State
	detector *anomaly.Detector
	agg      *aggregate.Context
	logger   *zap.Logger
	ran      bool

	faceErrors   int
	emotionCalls int
	motionErrors int
	notifyErrors int
}

// New validates deps and builds an orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Source == nil || deps.Sink == nil || deps.Motion == nil {
		return nil, errors.New("pipeline: source, sink and motion analyzer are required")
	}
	if deps.Faces == nil {
		deps.Faces = faces.Disabled{}
	}
	if deps.Emotion == nil {
		deps.Emotion = noEmotion{}
	}
	if deps.Notifier == nil {
		deps.Notifier = noNotifier{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.L().Named("pipeline")
	}

	return &Orchestrator{
		deps:     deps,
		opts:     opts,
		gate:     sampling.NewGate(opts.FPS, opts.Sampling.CooldownSeconds, opts.Sampling.OverlaySeconds),
		state:    sampling.NewState(),
		detector: anomaly.NewDetector(opts.Anomaly),
		agg:      aggregate.NewContext(),
		logger:   logger,
	}, nil
}

// Run processes the source to its end. On cancellation it returns the
// partial result with Interrupted set, together with the context error.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	if o.ran {
		return Result{}, errors.New("pipeline: orchestrator already ran")
	}
	o.ran = true

	start := time.Now()
	res := Result{FPS: o.opts.FPS, Context: o.agg}
	defer func() { res.Elapsed = time.Since(start) }()

	o.logger.Info("starting analysis",
		zap.Float64("fps", o.opts.FPS),
		zap.Int("total_frames", o.opts.TotalFrames),
		zap.Int("activity_stride", o.opts.Sampling.ActivityStride),
		zap.Int("emotion_stride", o.opts.Sampling.EmotionStride),
		zap.Int("cooldown_frames", o.gate.CooldownFrames),
		zap.Int("overlay_frames", o.gate.OverlayFrames))

	frame := gocv.NewMat()
	defer frame.Close()

	for {
		if err := ctx.Err(); err != nil {
			res.Interrupted = true
			res.Elapsed = time.Since(start)
			o.logger.Warn("analysis interrupted", zap.Int("processed", res.Processed))
			return res, err
		}

		if err := o.deps.Source.Read(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			res.Elapsed = time.Since(start)
			return res, fmt.Errorf("pipeline: read frame %d: %w", res.Processed+1, err)
		}

		idx := res.Processed + 1
		if err := o.processFrame(ctx, &frame, idx); err != nil {
			res.Elapsed = time.Since(start)
			return res, err
		}
		res.Processed = idx
		o.logProgress(idx, start)
	}

	res.Elapsed = time.Since(start)
	o.logger.Info("analysis finished",
		zap.Int("processed", res.Processed),
		zap.Int("anomalies", len(o.agg.Anomalies)),
		zap.Int("frames_with_face", o.agg.FramesWithFace),
		zap.Int("emotion_calls", o.emotionCalls),
		zap.Int("face_errors", o.faceErrors),
		zap.Int("motion_errors", o.motionErrors),
		zap.Int("notify_errors", o.notifyErrors),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// processFrame runs every analysis on one frame and writes it out. Analyses
// read a clean copy; overlays go on frame itself.
func (o *Orchestrator) processFrame(ctx context.Context, frame *gocv.Mat, idx int) error {
	raw := frame.Clone()
	defer raw.Close()

	t := o.timeOf(idx)

	boxes, err := o.deps.Faces.Detect(raw)
	if err != nil {
		o.faceErrors++
		o.logger.Warn("face detection failed", zap.Int("frame", idx), zap.Error(err))
		boxes = nil
	}
	o.agg.RegisterFaces(len(boxes))
	if o.opts.DrawFaceBoxes {
		for _, b := range boxes {
			overlay.FaceBox(frame, b)
		}
	}

	if sampling.ShouldRun(idx, o.opts.Sampling.EmotionStride) {
		o.sampleEmotion(ctx, raw, boxes, idx)
	}

	if sampling.ShouldRun(idx, o.opts.Sampling.ActivityStride) {
		o.sampleActivity(ctx, raw, idx, t)
	}

	overlay.Basic(frame, idx, t, o.opts.FPS, o.opts.TotalFrames)
	if o.state.Emotion != "" {
		overlay.Emotion(frame, overlay.EmotionLabel(o.state.Emotion, o.state.Confidence, o.state.HasConfidence))
	}
	if o.state.HasActivity {
		overlay.Activity(frame, overlay.ActivityLabel(o.state.Activity, o.state.Motion))
	}
	if text, ok := o.state.Overlay(idx); ok {
		overlay.Anomaly(frame, text)
	}

	if err := o.deps.Sink.Write(*frame); err != nil {
		return fmt.Errorf("pipeline: write frame %d: %w", idx, err)
	}
	return nil
}

func (o *Orchestrator) sampleEmotion(ctx context.Context, raw gocv.Mat, boxes []faces.Box, idx int) {
	largest, ok := faces.Largest(boxes)
	if !ok {
		return
	}

	region := raw.Region(largest.Rect())
	crop := region.Clone()
	region.Close()
	defer crop.Close()

	o.emotionCalls++
	res, ok := o.deps.Emotion.Analyze(ctx, crop)
	if !ok {
		return
	}
	if o.state.SetEmotion(res.Label, res.Confidence, res.HasConfidence) {
		o.agg.RegisterEmotion(res.Label)
		o.logger.Debug("emotion sampled", zap.Int("frame", idx), zap.String("emotion", res.Label), zap.Float64("confidence", res.Confidence))
	}
}

func (o *Orchestrator) sampleActivity(ctx context.Context, raw gocv.Mat, idx int, t float64) {
	label, score, err := o.deps.Motion.Analyze(raw)
	if err != nil {
		o.motionErrors++
		o.logger.Warn("motion analysis failed", zap.Int("frame", idx), zap.Error(err))
		return
	}
	o.state.SetActivity(label, score)
	o.agg.RegisterActivity(label)

	v := o.detector.Update(score)
	if v == nil {
		return
	}
	if !o.state.AcceptAnomaly(o.gate, idx, sampling.AnomalyText(string(v.Kind), v.Z)) {
		o.logger.Debug("anomaly suppressed by cooldown", zap.Int("frame", idx), zap.String("type", string(v.Kind)), zap.Float64("z", v.Z))
		return
	}

	ev := aggregate.AnomalyEvent{
		Frame:    idx,
		TimeSec:  t,
		Kind:     v.Kind,
		Z:        v.Z,
		Motion:   score,
		Activity: label,
	}
	o.agg.RegisterAnomaly(ev)
	o.logger.Info("motion anomaly",
		zap.Int("frame", idx),
		zap.Float64("time_sec", t),
		zap.String("type", string(v.Kind)),
		zap.Float64("z", v.Z),
		zap.Float64("motion", score))

	if err := o.deps.Notifier.NotifyAnomaly(ctx, ev); err != nil {
		o.notifyErrors++
		o.logger.Warn("anomaly notification failed", zap.Int("frame", idx), zap.Error(err))
	}
}

func (o *Orchestrator) timeOf(idx int) float64 {
	if o.opts.FPS <= 0 {
		return 0
	}
	return float64(idx) / o.opts.FPS
}

func (o *Orchestrator) logProgress(idx int, start time.Time) {
	every := o.opts.ProgressEvery
	if every <= 0 || idx%every != 0 {
		return
	}
	fields := []zap.Field{
		zap.Int("frame", idx),
		zap.Duration("elapsed", time.Since(start)),
	}
	if o.opts.TotalFrames > 0 {
		fields = append(fields, zap.Float64("percent", 100*float64(idx)/float64(o.opts.TotalFrames)))
	}
	o.logger.Info("progress", fields...)
}

type noEmotion struct{}

func (noEmotion) Analyze(context.Context, gocv.Mat) (emotion.Result, bool) {
	return emotion.Result{}, false
}

type noNotifier struct{}

func (noNotifier) NotifyAnomaly(context.Context, aggregate.AnomalyEvent) error { return nil }
