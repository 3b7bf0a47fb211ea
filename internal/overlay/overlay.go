// Package overlay draws the diagnostic text and face boxes on display frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/videoscope/internal/activity"
	"github.com/mikeyg42/videoscope/internal/faces"
)

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	black = color.RGBA{A: 255}
)

const font = gocv.FontHersheySimplex

// Rows for the per-analysis text lines.
const (
	emotionRow  = 300
	activityRow = 350
	anomalyRow  = 420
)

// FrameLabel formats the frame counter; an unknown total renders as "?".
func FrameLabel(idx, total int) string {
	t := "?"
	if total > 0 {
		t = strconv.Itoa(total)
	}
	return fmt.Sprintf("Frame: %d / %s", idx, t)
}

// TimeLabel formats the timestamp line.
func TimeLabel(sec, fps float64) string {
	return fmt.Sprintf("Time: %.2fs | FPS: %.2f", sec, fps)
}

// EmotionLabel formats the last known emotion.
func EmotionLabel(label string, confidence float64, hasConfidence bool) string {
	if !hasConfidence {
		return "emotion: " + label
	}
	return fmt.Sprintf("emotion: %s (%.2f)", label, confidence)
}

// ActivityLabel formats the last activity sample.
func ActivityLabel(label activity.Label, motion float64) string {
	return fmt.Sprintf("activity: %s | motion=%.4f", label, motion)
}

// Basic draws the frame counter and timestamp in red on a black box.
func Basic(img *gocv.Mat, idx int, sec, fps float64, total int) {
	const (
		scale     = 1.3
		thickness = 3
		x, y      = 20, 50
		gap       = 45
		pad       = 12
	)
	line1 := FrameLabel(idx, total)
	line2 := TimeLabel(sec, fps)

	s1 := gocv.GetTextSize(line1, font, scale, thickness)
	s2 := gocv.GetTextSize(line2, font, scale, thickness)
	w := max(s1.X, s2.X)

	box := image.Rect(x-pad, y-s1.Y-pad, x+w+pad, y+s2.Y+pad+gap)
	gocv.Rectangle(img, box, black, -1)

	text(img, line1, image.Pt(x, y), scale, red, thickness)
	text(img, line2, image.Pt(x, y+gap), scale, red, thickness)
}

// FaceBox outlines b in green with its score above it.
func FaceBox(img *gocv.Mat, b faces.Box) {
	gocv.Rectangle(img, b.Rect(), green, 2)
	text(img, fmt.Sprintf("face %.2f", b.Confidence), image.Pt(b.X1, max(20, b.Y1-10)), 0.7, green, 2)
}

// Emotion draws the emotion line.
func Emotion(img *gocv.Mat, line string) {
	text(img, line, image.Pt(20, emotionRow), 1.0, red, 3)
}

// Activity draws the activity line.
func Activity(img *gocv.Mat, line string) {
	text(img, line, image.Pt(20, activityRow), 1.0, red, 3)
}

// Anomaly draws the anomaly banner.
func Anomaly(img *gocv.Mat, line string) {
	text(img, line, image.Pt(20, anomalyRow), 1.1, red, 4)
}

func text(img *gocv.Mat, s string, at image.Point, scale float64, c color.RGBA, thickness int) {
	gocv.PutTextWithParams(img, s, at, font, scale, c, thickness, gocv.LineAA, false)
}
