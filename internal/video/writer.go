package video

import (
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

// Writer encodes annotated frames to a video file.
type Writer struct {
	writer *gocv.VideoWriter
	path   string
	frames int
}

// CreateWriter opens path for writing, creating parent directories.
// codec is a four character code such as "mp4v".
func CreateWriter(path, codec string, fps float64, width, height int) (*Writer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %s: invalid frame size %dx%d", ErrOpen, path, width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("%w: %s: invalid fps %v", ErrOpen, path, fps)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create output directory: %v", ErrOpen, err)
		}
	}

	vw, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("%w: %s: writer not opened", ErrOpen, path)
	}
	return &Writer{writer: vw, path: path}, nil
}

// Write appends one frame.
func (w *Writer) Write(frame gocv.Mat) error {
	if err := w.writer.Write(frame); err != nil {
		return fmt.Errorf("video: write frame %d: %w", w.frames+1, err)
	}
	w.frames++
	return nil
}

// Frames returns the number of frames written.
func (w *Writer) Frames() int { return w.frames }

// Path returns the output file.
func (w *Writer) Path() string { return w.path }

// Close flushes the file and checks that something was written.
func (w *Writer) Close() error {
	if err := w.writer.Close(); err != nil {
		return fmt.Errorf("video: close %s: %w", w.path, err)
	}
	if w.frames == 0 {
		return nil
	}
	fi, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("video: verify %s: %w", w.path, err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("video: %s is empty after %d frames", w.path, w.frames)
	}
	return nil
}
