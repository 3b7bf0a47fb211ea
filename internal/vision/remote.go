// Package vision adapts face crops held in gocv Mats to the emotion
// classifiers, either remote vision models or a local ONNX network.
package vision

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/videoscope/internal/emotion"
)

// Remote JPEG-encodes a face crop and hands it to an emotion.Classifier.
type Remote struct {
	classifier emotion.Classifier
	quality    int
	logger     *zap.Logger
}

// NewRemote wraps c. quality is the JPEG quality, 1..100.
func NewRemote(c emotion.Classifier, quality int, logger *zap.Logger) *Remote {
	if quality < 1 || quality > 100 {
		quality = 85
	}
	if logger == nil {
		logger = zap.L().Named("emotion")
	}
	return &Remote{classifier: c, quality: quality, logger: logger}
}

// Analyze classifies face. Every failure is logged and reported as ok=false.
func (r *Remote) Analyze(ctx context.Context, face gocv.Mat) (emotion.Result, bool) {
	jpeg, err := EncodeJPEG(face, r.quality)
	if err != nil {
		r.logger.Debug("encode face crop", zap.Error(err))
		return emotion.Result{}, false
	}
	res, err := r.classifier.AnalyzeJPEG(ctx, jpeg)
	if err != nil {
		r.logger.Debug("emotion classification failed", zap.Error(err))
		return emotion.Result{}, false
	}
	return res, res.Label != ""
}

// EncodeJPEG compresses img to JPEG bytes.
func EncodeJPEG(img gocv.Mat, quality int) ([]byte, error) {
	if img.Empty() {
		return nil, fmt.Errorf("vision: empty image")
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("vision: encode jpeg: %w", err)
	}
	defer buf.Close()

	src := buf.GetBytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

// Disabled never classifies anything.
type Disabled struct{}

// Analyze implements the classifier contract with no result.
func (Disabled) Analyze(context.Context, gocv.Mat) (emotion.Result, bool) {
	return emotion.Result{}, false
}
