package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/videoscope/internal/activity"
	"github.com/mikeyg42/videoscope/internal/aggregate"
	"github.com/mikeyg42/videoscope/internal/anomaly"
	"github.com/mikeyg42/videoscope/internal/config"
	"github.com/mikeyg42/videoscope/internal/emotion"
	"github.com/mikeyg42/videoscope/internal/faces"
	"github.com/mikeyg42/videoscope/internal/imgconv"
	"github.com/mikeyg42/videoscope/internal/motion"
	"github.com/mikeyg42/videoscope/internal/report"
)

// genSource renders frame i (1-based) on demand.
type genSource struct {
	n, i   int
	render func(idx int) *image.RGBA
	err    error
}

func (s *genSource) Read(dst *gocv.Mat) error {
	if s.err != nil && s.i == s.n/2 {
		return s.err
	}
	if s.i >= s.n {
		return io.EOF
	}
	s.i++
	m, err := imgconv.ToBGR(s.render(s.i))
	if err != nil {
		return err
	}
	defer m.Close()
	m.CopyTo(dst)
	return nil
}

type countingSink struct {
	writes int
	failAt int
}

func (s *countingSink) Write(frame gocv.Mat) error {
	s.writes++
	if s.failAt > 0 && s.writes == s.failAt {
		return errors.New("disk full")
	}
	if frame.Empty() {
		return errors.New("empty frame")
	}
	return nil
}

// scriptedMotion returns scores by frame index, 0 otherwise.
type scriptedMotion struct {
	scores map[int]float64
	calls  []int
	frame  int
}

func (m *scriptedMotion) Analyze(gocv.Mat) (activity.Label, float64, error) {
	m.frame += 5
	m.calls = append(m.calls, m.frame)
	s := m.scores[m.frame]
	return activity.DefaultThresholds().Classify(s), s, nil
}

type fixedFaces struct{ boxes []faces.Box }

func (f fixedFaces) Detect(gocv.Mat) ([]faces.Box, error) { return f.boxes, nil }

type stubEmotion struct {
	calls []image.Point
	label string
}

func (s *stubEmotion) Analyze(_ context.Context, face gocv.Mat) (emotion.Result, bool) {
	s.calls = append(s.calls, image.Pt(face.Cols(), face.Rows()))
	return emotion.Result{Label: s.label, Confidence: 0.8, HasConfidence: true}, s.label != ""
}

type recordingNotifier struct{ events []aggregate.AnomalyEvent }

func (r *recordingNotifier) NotifyAnomaly(_ context.Context, ev aggregate.AnomalyEvent) error {
	r.events = append(r.events, ev)
	return errors.New("listener gone")
}

var gray90 = color.RGBA{R: 90, G: 90, B: 90, A: 255}

func uniform(w, h int) func(int) *image.RGBA {
	return func(int) *image.RGBA { return imgconv.Canvas(w, h, gray90) }
}

func defaultOptions(fps float64) Options {
	cfg := config.NewDefaultConfig()
	return Options{
		FPS:           fps,
		Sampling:      cfg.Sampling,
		Anomaly:       cfg.Anomaly,
		ProgressEvery: 50,
		DrawFaceBoxes: true,
	}
}

func newExtractor(t *testing.T) *motion.Extractor {
	t.Helper()
	e, err := motion.NewExtractor(config.NewDefaultConfig().Motion, activity.DefaultThresholds())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestIdenticalFramesProduceNoAnomalies(t *testing.T) {
	sink := &countingSink{}
	o, err := New(Deps{
		Source: &genSource{n: 100, render: uniform(160, 120)},
		Sink:   sink,
		Motion: newExtractor(t),
		Logger: zaptest.NewLogger(t),
	}, defaultOptions(25))
	if err != nil {
		t.Fatal(err)
	}

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 100 || sink.writes != 100 {
		t.Fatalf("processed %d, wrote %d; want 100/100", res.Processed, sink.writes)
	}
	if got := res.Context.Activities.Get(string(activity.Still)); got != 20 {
		t.Errorf("still samples = %d, want 20", got)
	}
	if n := len(res.Context.Anomalies); n != 0 {
		t.Errorf("anomalies = %d, want 0", n)
	}
	if res.Context.FramesWithFace != 0 || res.Context.Emotions.Len() != 0 {
		t.Errorf("unexpected face/emotion data: %+v", res.Context)
	}

	rep := report.New(report.RunMeta{RunID: "r"}, res.Context, res.Processed, res.FPS, time.Unix(0, 0))
	if !strings.Contains(rep.Summary.Text, "No relevant motion anomalies") {
		t.Errorf("summary = %q", rep.Summary.Text)
	}
}

func TestMovingBlockRaisesSingleAnomaly(t *testing.T) {
	render := func(idx int) *image.RGBA {
		img := imgconv.Canvas(320, 240, gray90)
		if idx >= 150 && idx <= 155 {
			x := 10 + (idx-150)*36
			imgconv.FillRect(img, image.Rect(x, 70, x+120, 170), color.RGBA{R: 240, G: 240, B: 240, A: 255})
		}
		return img
	}
	notifier := &recordingNotifier{}
	sink := &countingSink{}
	o, err := New(Deps{
		Source:   &genSource{n: 200, render: render},
		Sink:     sink,
		Motion:   newExtractor(t),
		Notifier: notifier,
		Logger:   zaptest.NewLogger(t),
	}, defaultOptions(30))
	if err != nil {
		t.Fatal(err)
	}

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sink.writes != 200 {
		t.Fatalf("writes = %d, want 200", sink.writes)
	}
	if got := res.Context.Activities.Get(string(activity.Gesturing)); got != 3 {
		t.Errorf("gesturing samples = %d, want 3", got)
	}
	if got := res.Context.Activities.Total(); got != 40 {
		t.Errorf("activity samples = %d, want 40", got)
	}

	if len(res.Context.Anomalies) != 1 {
		t.Fatalf("anomalies = %+v, want exactly one", res.Context.Anomalies)
	}
	ev := res.Context.Anomalies[0]
	if ev.Frame != 150 || ev.Kind != anomaly.HighMotion || math.Abs(ev.TimeSec-5.0) > 1e-9 {
		t.Errorf("event = %+v, want high_motion at frame 150, t=5.0", ev)
	}
	if ev.Z < 3 || ev.Activity != activity.Gesturing {
		t.Errorf("event = %+v", ev)
	}
	// notifier errors are logged, never fatal
	if len(notifier.events) != 1 {
		t.Errorf("notified %d events, want 1", len(notifier.events))
	}
}

func TestCooldownAndLowMotion(t *testing.T) {
	tests := []struct {
		name      string
		base      float64
		scores    map[int]float64
		enableLow bool
		want      []int
		wantKind  anomaly.Kind
	}{
		{
			name:     "spikes after cooldown are both reported",
			scores:   map[int]float64{150: 0.5, 200: 0.5, 205: 0.5},
			want:     []int{150, 200},
			wantKind: anomaly.HighMotion,
		},
		{
			name:      "drop to zero is low motion",
			base:      0.05,
			scores:    map[int]float64{150: 0},
			enableLow: true,
			want:      []int{150},
			wantKind:  anomaly.LowMotion,
		},
		{
			name:   "drop ignored when low disabled",
			base:   0.05,
			scores: map[int]float64{150: 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores := map[int]float64{}
			for f := 5; f <= 250; f += 5 {
				scores[f] = tt.base
			}
			for f, s := range tt.scores {
				scores[f] = s
			}
			opts := defaultOptions(30)
			opts.Anomaly.EnableLow = tt.enableLow
			m := &scriptedMotion{scores: scores}
			o, err := New(Deps{
				Source: &genSource{n: 250, render: uniform(64, 48)},
				Sink:   &countingSink{},
				Motion: m,
				Logger: zaptest.NewLogger(t),
			}, opts)
			if err != nil {
				t.Fatal(err)
			}
			res, err := o.Run(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(m.calls) != 50 {
				t.Fatalf("motion calls = %d, want 50", len(m.calls))
			}

			var got []int
			for _, ev := range res.Context.Anomalies {
				got = append(got, ev.Frame)
				if ev.Kind != tt.wantKind {
					t.Errorf("frame %d kind = %s, want %s", ev.Frame, ev.Kind, tt.wantKind)
				}
			}
			if len(got) != len(tt.want) {
				t.Fatalf("anomaly frames = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("anomaly frames = %v, want %v", got, tt.want)
				}
			}
			for i := 1; i < len(got); i++ {
				if got[i]-got[i-1] < 30 {
					t.Errorf("events %d and %d closer than cooldown", got[i-1], got[i])
				}
			}
		})
	}
}

func TestEmotionSampledOnLargestFace(t *testing.T) {
	boxes := []faces.Box{
		{X1: 0, Y1: 0, X2: 20, Y2: 20, Confidence: 0.9},
		{X1: 30, Y1: 10, X2: 70, Y2: 40, Confidence: 0.6},
		{X1: 80, Y1: 80, X2: 110, Y2: 120, Confidence: 0.7},
	}
	emo := &stubEmotion{label: "happy"}
	o, err := New(Deps{
		Source:  &genSource{n: 100, render: uniform(160, 120)},
		Sink:    &countingSink{},
		Motion:  newExtractor(t),
		Faces:   fixedFaces{boxes: boxes},
		Emotion: emo,
		Logger:  zaptest.NewLogger(t),
	}, defaultOptions(30))
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if res.Context.FramesWithFace != 100 || res.Context.TotalDetections != 300 {
		t.Errorf("faces = %d frames / %d detections, want 100/300", res.Context.FramesWithFace, res.Context.TotalDetections)
	}
	// frames 30, 60, 90; the last two boxes tie at 1200 px and the earlier wins
	if len(emo.calls) != 3 {
		t.Fatalf("emotion calls = %d, want 3", len(emo.calls))
	}
	for _, c := range emo.calls {
		if c != image.Pt(40, 30) {
			t.Errorf("crop size = %v, want 40x30", c)
		}
	}
	if got := res.Context.Emotions.Get("happy"); got != 3 {
		t.Errorf("happy = %d, want 3", got)
	}
}

func TestEmotionFailureIsSkipped(t *testing.T) {
	emo := &stubEmotion{}
	o, err := New(Deps{
		Source:  &genSource{n: 60, render: uniform(160, 120)},
		Sink:    &countingSink{},
		Motion:  newExtractor(t),
		Faces:   fixedFaces{boxes: []faces.Box{{X1: 10, Y1: 10, X2: 50, Y2: 50}}},
		Emotion: emo,
		Logger:  zaptest.NewLogger(t),
	}, defaultOptions(30))
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(emo.calls) != 2 || res.Context.Emotions.Len() != 0 {
		t.Errorf("calls=%d emotions=%d, want 2/0", len(emo.calls), res.Context.Emotions.Len())
	}
}

func TestSinkErrorIsFatal(t *testing.T) {
	sink := &countingSink{failAt: 7}
	o, err := New(Deps{
		Source: &genSource{n: 20, render: uniform(64, 48)},
		Sink:   sink,
		Motion: newExtractor(t),
		Logger: zaptest.NewLogger(t),
	}, defaultOptions(30))
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v, want sink error", err)
	}
	if res.Processed != 6 {
		t.Errorf("processed = %d, want 6", res.Processed)
	}
}

func TestSourceErrorIsFatal(t *testing.T) {
	o, err := New(Deps{
		Source: &genSource{n: 10, render: uniform(64, 48), err: errors.New("corrupt")},
		Sink:   &countingSink{},
		Motion: newExtractor(t),
		Logger: zaptest.NewLogger(t),
	}, defaultOptions(30))
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Run(context.Background())
	if err == nil || res.Processed != 5 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestCancelledRunIsInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &countingSink{}
	o, err := New(Deps{
		Source: &genSource{n: 10, render: uniform(64, 48)},
		Sink:   sink,
		Motion: newExtractor(t),
		Logger: zaptest.NewLogger(t),
	}, defaultOptions(30))
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !res.Interrupted || res.Processed != 0 || sink.writes != 0 {
		t.Errorf("res = %+v, writes = %d", res, sink.writes)
	}
	if res.Context == nil {
		t.Error("partial context missing")
	}

	if _, err := o.Run(context.Background()); err == nil {
		t.Error("second Run should fail")
	}
}

func TestUnknownFPS(t *testing.T) {
	m := &scriptedMotion{scores: map[int]float64{100: 0.9}}
	o, err := New(Deps{
		Source: &genSource{n: 120, render: uniform(64, 48)},
		Sink:   &countingSink{},
		Motion: m,
		Logger: zaptest.NewLogger(t),
	}, defaultOptions(0))
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Context.Anomalies) != 1 || res.Context.Anomalies[0].TimeSec != 0 {
		t.Errorf("anomalies = %+v, want one at t=0", res.Context.Anomalies)
	}
}

func TestNewRequiresCoreDeps(t *testing.T) {
	if _, err := New(Deps{Sink: &countingSink{}}, defaultOptions(30)); err == nil {
		t.Fatal("expected error without source and motion analyzer")
	}
}
