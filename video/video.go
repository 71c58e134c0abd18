// Package video wraps the decode and encode collaborators. Decoding yields a
// finite, ordered, restartable frame sequence plus container metadata;
// encoding turns rendered comparison images back into an mp4 clip. Everything
// OpenCV-specific stays inside this package: frames cross the boundary as
// plain image.Image values.
package video

import (
	"context"
	"image"
	"os"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Metadata describes an uploaded video.
type Metadata struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frame_count"`
}

// Frame is one decoded video frame. Immutable once produced; the 0-based
// Index is its position within the video.
type Frame struct {
	Index int
	Image image.Image
}

// Source yields a video's metadata and its full ordered frame sequence.
// Frames may be called more than once; each call restarts decoding.
type Source interface {
	Info(ctx context.Context) (Metadata, error)
	Frames(ctx context.Context) ([]Frame, error)
}

// FileSource decodes a video file with OpenCV.
type FileSource struct {
	path string
}

// NewFileSource validates that the file exists and returns a source for it.
func NewFileSource(path string) (*FileSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "video file %s", path)
	}
	return &FileSource{path: path}, nil
}

// Info reads the container metadata without decoding frames.
func (s *FileSource) Info(ctx context.Context) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	cap, err := gocv.OpenVideoCapture(s.path)
	if err != nil {
		return Metadata{}, errors.Wrapf(err, "open %s", s.path)
	}
	defer cap.Close()

	meta := Metadata{
		Width:      int(cap.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(cap.Get(gocv.VideoCaptureFrameHeight)),
		FPS:        cap.Get(gocv.VideoCaptureFPS),
		FrameCount: int(cap.Get(gocv.VideoCaptureFrameCount)),
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return Metadata{}, errors.Errorf("%s is not a decodable video", s.path)
	}
	return meta, nil
}

// Frames decodes the whole file into memory, in order.
func (s *FileSource) Frames(ctx context.Context) ([]Frame, error) {
	cap, err := gocv.OpenVideoCapture(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", s.path)
	}
	defer cap.Close()

	mat := gocv.NewMat()
	defer mat.Close()

	var frames []Frame
	for cap.Read(&mat) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if mat.Empty() {
			continue
		}
		img, err := mat.ToImage()
		if err != nil {
			return nil, errors.Wrapf(err, "convert frame %d", len(frames))
		}
		frames = append(frames, Frame{Index: len(frames), Image: img})
	}
	if len(frames) == 0 {
		return nil, errors.Errorf("no frames decoded from %s", s.path)
	}
	return frames, nil
}

// ClipWriter encodes rendered frames into an mp4 file.
type ClipWriter struct{}

// WriteClip encodes the given frames at fps into path. All frames must share
// the dimensions of the first one.
func (ClipWriter) WriteClip(path string, fps float64, frames []image.Image) error {
	if len(frames) == 0 {
		return errors.New("no frames to encode")
	}
	if fps <= 0 {
		fps = 30
	}
	bounds := frames[0].Bounds()
	writer, err := gocv.VideoWriterFile(path, "mp4v", fps, bounds.Dx(), bounds.Dy(), true)
	if err != nil {
		return errors.Wrapf(err, "open writer %s", path)
	}
	defer writer.Close()

	for i, frame := range frames {
		mat, err := gocv.ImageToMatRGB(frame)
		if err != nil {
			return errors.Wrapf(err, "convert frame %d", i)
		}
		gocv.CvtColor(mat, &mat, gocv.ColorRGBToBGR)
		if err := writer.Write(mat); err != nil {
			mat.Close()
			return errors.Wrapf(err, "write frame %d", i)
		}
		mat.Close()
	}
	return nil
}
