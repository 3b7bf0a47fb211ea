package vision

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/videoscope/internal/emotion"
)

const ferInput = 64

// ferLabels maps the FER+ output classes onto the emotion label set.
var ferLabels = [...]string{"neutral", "happy", "surprise", "sad", "angry", "disgust", "fear", "contempt"}

// FERPlus runs the ONNX FER+ emotion network locally.
// Not safe for concurrent use.
type FERPlus struct {
	net    gocv.Net
	logger *zap.Logger
}

// NewFERPlus loads the FER+ model at path.
func NewFERPlus(path string, logger *zap.Logger) (*FERPlus, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("vision: model file %s: %w", path, err)
	}
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("vision: failed to load %s", path)
	}
	if logger == nil {
		logger = zap.L().Named("emotion")
	}
	return &FERPlus{net: net, logger: logger}, nil
}

// Analyze classifies face with the highest-probability FER+ class.
func (f *FERPlus) Analyze(_ context.Context, face gocv.Mat) (emotion.Result, bool) {
	if face.Empty() {
		return emotion.Result{}, false
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if face.Channels() > 1 {
		gocv.CvtColor(face, &gray, gocv.ColorBGRToGray)
	} else {
		face.CopyTo(&gray)
	}

	blob := gocv.BlobFromImage(gray, 1.0, image.Pt(ferInput, ferInput), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	f.net.SetInput(blob, "")
	out := f.net.Forward("")
	defer out.Close()

	if out.Total() < len(ferLabels) {
		f.logger.Debug("unexpected FER+ output", zap.Int("size", out.Total()))
		return emotion.Result{}, false
	}

	scores := make([]float64, len(ferLabels))
	for i := range scores {
		scores[i] = float64(out.GetFloatAt(0, i))
	}
	idx, p := argmaxSoftmax(scores)
	return emotion.Result{Label: ferLabels[idx], Confidence: p, HasConfidence: true}, true
}

// Close releases the network.
func (f *FERPlus) Close() error {
	return f.net.Close()
}

// argmaxSoftmax returns the index of the largest logit and its softmax probability.
func argmaxSoftmax(logits []float64) (int, float64) {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(v - logits[best])
	}
	return best, 1 / sum
}
