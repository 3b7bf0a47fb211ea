// Package faces locates faces in BGR frames and exposes them as pixel boxes.
package faces

import "image"

// Box is a face bounding box in pixel corners, clamped to the frame.
type Box struct {
	X1, Y1, X2, Y2 int
	Confidence     float64
}

// FromXYWH builds a clamped box from a top-left corner and size as returned
// by detectors, for a frame of frameW x frameH pixels.
func FromXYWH(x, y, w, h, score float64, frameW, frameH int) Box {
	return Box{
		X1:         clampInt(int(x), 0, frameW-1),
		Y1:         clampInt(int(y), 0, frameH-1),
		X2:         clampInt(int(x+w), 0, frameW-1),
		Y2:         clampInt(int(y+h), 0, frameH-1),
		Confidence: score,
	}
}

// Area returns the box area; inverted boxes have area 0.
func (b Box) Area() int {
	return max(0, b.X2-b.X1) * max(0, b.Y2-b.Y1)
}

// Rect returns the box as an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Largest returns the box with the strictly largest area. The first box wins
// ties. ok is false when no box has a positive area.
func Largest(boxes []Box) (best Box, ok bool) {
	bestArea := 0
	for _, b := range boxes {
		if a := b.Area(); a > bestArea {
			bestArea = a
			best = b
			ok = true
		}
	}
	return best, ok
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
