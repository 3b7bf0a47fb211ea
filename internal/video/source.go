// Package video reads frames from a finite video source and writes the
// annotated result.
package video

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/videoscope/internal/imgconv"
)

// ErrOpen wraps every failure to open a source or sink.
var ErrOpen = errors.New("video: open failed")

// Props describes a source. TotalFrames is advisory and 0 when unknown;
// FPS is 0 when the container does not report it.
type Props struct {
	Width       int
	Height      int
	FPS         float64
	TotalFrames int
}

// Source yields frames in order and returns io.EOF after the last one.
type Source interface {
	Read(dst *gocv.Mat) error
	Props() Props
	Close() error
}

// FileSource reads a video file through OpenCV.
type FileSource struct {
	capture *gocv.VideoCapture
	props   Props
	path    string
}

// OpenFile opens the video at path.
func OpenFile(path string) (*FileSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: %s: capture not opened", ErrOpen, path)
	}

	props := Props{
		Width:       int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:      int(capture.Get(gocv.VideoCaptureFrameHeight)),
		FPS:         capture.Get(gocv.VideoCaptureFPS),
		TotalFrames: int(capture.Get(gocv.VideoCaptureFrameCount)),
	}
	if props.TotalFrames < 0 {
		props.TotalFrames = 0
	}
	if props.FPS < 0 {
		props.FPS = 0
	}
	return &FileSource{capture: capture, props: props, path: path}, nil
}

// Read decodes the next frame into dst.
func (s *FileSource) Read(dst *gocv.Mat) error {
	if ok := s.capture.Read(dst); !ok || dst.Empty() {
		return io.EOF
	}
	return nil
}

// Props implements Source.
func (s *FileSource) Props() Props { return s.props }

// Close releases the capture.
func (s *FileSource) Close() error { return s.capture.Close() }

// ImageDirSource reads a directory of PNG or JPEG frames in lexical order.
type ImageDirSource struct {
	files []string
	next  int
	props Props
}

// OpenImageDir lists the frames under dir. All frames must share the size
// of the first one; fps is whatever the caller says it is.
func OpenImageDir(dir string, fps float64) (*ImageDirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s: no png or jpeg frames", ErrOpen, dir)
	}
	sort.Strings(files)

	first, err := imgconv.DecodeFile(files[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	defer first.Close()

	return &ImageDirSource{
		files: files,
		props: Props{
			Width:       first.Cols(),
			Height:      first.Rows(),
			FPS:         fps,
			TotalFrames: len(files),
		},
	}, nil
}

// Read decodes the next image into dst.
func (s *ImageDirSource) Read(dst *gocv.Mat) error {
	if s.next >= len(s.files) {
		return io.EOF
	}
	path := s.files[s.next]
	s.next++

	m, err := imgconv.DecodeFile(path)
	if err != nil {
		return err
	}
	defer m.Close()
	if m.Cols() != s.props.Width || m.Rows() != s.props.Height {
		return fmt.Errorf("video: %s is %dx%d, expected %dx%d", path, m.Cols(), m.Rows(), s.props.Width, s.props.Height)
	}
	m.CopyTo(dst)
	return nil
}

// Props implements Source.
func (s *ImageDirSource) Props() Props { return s.props }

// Close implements Source.
func (s *ImageDirSource) Close() error { return nil }

// Open picks a FileSource or an ImageDirSource depending on what path is.
func Open(path string, dirFPS float64) (Source, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}
	if fi.IsDir() {
		return OpenImageDir(path, dirFPS)
	}
	return OpenFile(path)
}
