package faces

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/videoscope/internal/config"
)

// YuNet wraps OpenCV's FaceDetectorYN. Not safe for concurrent use.
type YuNet struct {
	detector gocv.FaceDetectorYN
	size     image.Point
}

// NewYuNet loads the YuNet ONNX model named in cfg.
func NewYuNet(cfg config.FacesConfig) (*YuNet, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("faces: model file %s: %w", cfg.ModelPath, err)
	}

	size := image.Pt(320, 320)
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		size, // resized per frame in Detect
		float32(cfg.ScoreThreshold),
		float32(cfg.NMSThreshold),
		cfg.TopK,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)
	return &YuNet{detector: detector, size: size}, nil
}

// Detect returns every face above the score threshold.
func (d *YuNet) Detect(frame gocv.Mat) ([]Box, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("faces: empty frame")
	}

	w, h := frame.Cols(), frame.Rows()
	if sz := image.Pt(w, h); sz != d.size {
		d.detector.SetInputSize(sz)
		d.size = sz
	}

	out := gocv.NewMat()
	defer out.Close()
	d.detector.Detect(frame, &out)

	// rows: x, y, w, h, five landmark pairs, score
	boxes := make([]Box, 0, out.Rows())
	for r := 0; r < out.Rows(); r++ {
		boxes = append(boxes, FromXYWH(
			float64(out.GetFloatAt(r, 0)),
			float64(out.GetFloatAt(r, 1)),
			float64(out.GetFloatAt(r, 2)),
			float64(out.GetFloatAt(r, 3)),
			float64(out.GetFloatAt(r, 14)),
			w, h,
		))
	}
	return boxes, nil
}

// Close releases the detector.
func (d *YuNet) Close() error {
	d.detector.Close()
	return nil
}

// Disabled never finds a face.
type Disabled struct{}

// Detect implements the detector contract with an empty result.
func (Disabled) Detect(gocv.Mat) ([]Box, error) { return nil, nil }
