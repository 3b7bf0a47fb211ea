package motion

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/videoscope/internal/activity"
	"github.com/mikeyg42/videoscope/internal/config"
	"github.com/mikeyg42/videoscope/internal/imgconv"
)

var background = color.RGBA{R: 90, G: 90, B: 90, A: 255}

func frameWithBlock(t *testing.T, w, h int, block image.Rectangle) gocv.Mat {
	t.Helper()
	img := imgconv.Canvas(w, h, background)
	if !block.Empty() {
		imgconv.FillRect(img, block, color.RGBA{R: 240, G: 240, B: 240, A: 255})
	}
	m, err := imgconv.ToBGR(img)
	if err != nil {
		t.Fatalf("ToBGR: %v", err)
	}
	return m
}

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor(config.NewDefaultConfig().Motion, activity.DefaultThresholds())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestFirstFrameIsStill(t *testing.T) {
	e := newExtractor(t)
	f := frameWithBlock(t, 320, 240, image.Rect(10, 10, 100, 100))
	defer f.Close()

	label, score, err := e.Analyze(f)
	if err != nil {
		t.Fatal(err)
	}
	if score != 0 || label != activity.Still {
		t.Fatalf("first frame = (%s, %v), want (still, 0)", label, score)
	}
}

func TestIdenticalFramesScoreZero(t *testing.T) {
	e := newExtractor(t)
	f := frameWithBlock(t, 320, 240, image.Rect(40, 40, 90, 90))
	defer f.Close()

	for i := 0; i < 5; i++ {
		label, score, err := e.Analyze(f)
		if err != nil {
			t.Fatal(err)
		}
		if score != 0 || label != activity.Still {
			t.Fatalf("iteration %d: (%s, %v)", i, label, score)
		}
	}
}

func TestMovingBlockScoresGesturing(t *testing.T) {
	e := newExtractor(t)
	a := frameWithBlock(t, 320, 240, image.Rect(20, 20, 140, 120))
	defer a.Close()
	b := frameWithBlock(t, 320, 240, image.Rect(180, 120, 300, 220))
	defer b.Close()

	if _, _, err := e.Analyze(a); err != nil {
		t.Fatal(err)
	}
	label, score, err := e.Analyze(b)
	if err != nil {
		t.Fatal(err)
	}
	if score <= 0.2 || score > 1 {
		t.Fatalf("score = %v, want in (0.2, 1]", score)
	}
	if label != activity.Gesturing {
		t.Errorf("label = %s, want gesturing", label)
	}
	if e.Scored() != 1 {
		t.Errorf("Scored() = %d, want 1", e.Scored())
	}
}

func TestPrepareDownscales(t *testing.T) {
	e := newExtractor(t)

	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"wide", 640, 480, 320, 240},
		{"narrow kept", 200, 100, 200, 100},
		{"exact", 320, 180, 320, 180},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := frameWithBlock(t, tt.w, tt.h, image.Rectangle{})
			defer f.Close()
			g, err := e.Prepare(f)
			if err != nil {
				t.Fatal(err)
			}
			defer g.Close()
			if g.Cols() != tt.wantW || g.Rows() != tt.wantH || g.Channels() != 1 {
				t.Errorf("prepared %dx%dx%d, want %dx%dx1", g.Cols(), g.Rows(), g.Channels(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestResetDropsReference(t *testing.T) {
	e := newExtractor(t)
	a := frameWithBlock(t, 320, 240, image.Rect(0, 0, 100, 100))
	defer a.Close()
	b := frameWithBlock(t, 320, 240, image.Rect(200, 100, 300, 200))
	defer b.Close()

	e.Analyze(a)
	e.Reset()
	if _, score, _ := e.Analyze(b); score != 0 {
		t.Fatalf("score after Reset = %v, want 0", score)
	}
}

func TestPrepareEmptyFrame(t *testing.T) {
	e := newExtractor(t)
	m := gocv.NewMat()
	defer m.Close()
	g, err := e.Prepare(m)
	g.Close()
	if err == nil {
		t.Fatal("expected error for empty frame")
	}
}

func TestNewExtractorRejectsBadConfig(t *testing.T) {
	cfg := config.NewDefaultConfig().Motion
	cfg.BlurSize = 4
	if _, err := NewExtractor(cfg, activity.DefaultThresholds()); err == nil {
		t.Fatal("expected error for even blur size")
	}
}
