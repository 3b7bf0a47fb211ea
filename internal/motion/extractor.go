// Package motion turns consecutive video frames into a scalar motion score
// by differencing reduced grayscale copies.
package motion

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/videoscope/internal/activity"
	"github.com/mikeyg42/videoscope/internal/config"
)

// Extractor holds the previous reduced frame of a single video.
// It is not safe for concurrent use.
type Extractor struct {
	config     config.MotionConfig
	thresholds activity.Thresholds
	kernel     gocv.Mat
	reference  gocv.Mat
	hasRef     bool
	scored     int64
}

// NewExtractor validates cfg and allocates the morphology kernel.
func NewExtractor(cfg config.MotionConfig, th activity.Thresholds) (*Extractor, error) {
	if cfg.ResizeWidth <= 0 {
		return nil, fmt.Errorf("motion: resize width must be positive")
	}
	if cfg.BlurSize <= 0 || cfg.BlurSize%2 == 0 {
		return nil, fmt.Errorf("motion: blur size must be odd and positive, got %d", cfg.BlurSize)
	}
	if cfg.MorphKernel <= 0 {
		return nil, fmt.Errorf("motion: morph kernel must be positive")
	}
	return &Extractor{
		config:     cfg,
		thresholds: th,
		kernel:     gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: cfg.MorphKernel, Y: cfg.MorphKernel}),
		reference:  gocv.NewMat(),
	}, nil
}

// Prepare returns a blurred grayscale copy of frame, downscaled to the
// configured width when wider. The caller owns the result.
func (e *Extractor) Prepare(frame gocv.Mat) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), fmt.Errorf("motion: empty frame")
	}

	src := frame
	if frame.Cols() > e.config.ResizeWidth {
		scale := float64(e.config.ResizeWidth) / float64(frame.Cols())
		h := int(float64(frame.Rows()) * scale)
		if h < 1 {
			h = 1
		}
		small := gocv.NewMat()
		defer small.Close()
		gocv.Resize(frame, &small, image.Point{X: e.config.ResizeWidth, Y: h}, 0, 0, gocv.InterpolationLinear)
		src = small
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if src.Channels() > 1 {
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	} else {
		src.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: e.config.BlurSize, Y: e.config.BlurSize}, 0, 0, gocv.BorderDefault)
	return blurred, nil
}

// Score compares gray with the stored reference and returns the fraction of
// changed pixels in [0,1]. The first call, or a call after a size change,
// returns 0. gray always becomes the new reference.
func (e *Extractor) Score(gray gocv.Mat) float64 {
	defer e.setReference(gray)

	if !e.hasRef || e.reference.Rows() != gray.Rows() || e.reference.Cols() != gray.Cols() {
		return 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(e.reference, gray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, float32(e.config.DiffThreshold), 255, gocv.ThresholdBinary)

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(thresh, &opened, gocv.MorphOpen, e.kernel)

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(opened, &dilated, e.kernel)

	total := dilated.Rows() * dilated.Cols()
	if total == 0 {
		return 0
	}
	e.scored++
	return float64(gocv.CountNonZero(dilated)) / float64(total)
}

// Analyze scores frame and classifies the result.
func (e *Extractor) Analyze(frame gocv.Mat) (activity.Label, float64, error) {
	gray, err := e.Prepare(frame)
	if err != nil {
		return activity.Still, 0, err
	}
	defer gray.Close()

	score := e.Score(gray)
	return e.thresholds.Classify(score), score, nil
}

// Scored returns how many frames produced a difference against a reference.
func (e *Extractor) Scored() int64 { return e.scored }

// Reset forgets the reference so the next frame scores 0.
func (e *Extractor) Reset() {
	e.hasRef = false
}

// Close releases native memory.
func (e *Extractor) Close() error {
	e.kernel.Close()
	e.reference.Close()
	e.hasRef = false
	return nil
}

func (e *Extractor) setReference(gray gocv.Mat) {
	gray.CopyTo(&e.reference)
	e.hasRef = true
}
