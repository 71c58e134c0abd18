// Package render turns frames and probability maps into the visual artifacts
// served to callers: colormapped overlays, labeled side-by-side comparison
// panels, and their PNG encodings.
package render

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-maskstab/masks"
)

// DefaultAlpha is the overlay blend weight of the colormapped mask.
const DefaultAlpha = 0.5

// Renderer produces artifact images. The concrete implementation lives here;
// the materializer depends only on the interface so its tests can stub
// rendering out.
type Renderer interface {
	Overlay(frame image.Image, pm masks.ProbabilityMap) (image.Image, error)
	Comparison(frame image.Image, before, after masks.ProbabilityMap) (image.Image, error)
	EncodePNG(img image.Image) ([]byte, error)
}

// New returns the gocv-backed renderer.
func New() Renderer {
	return gocvRenderer{alpha: DefaultAlpha}
}

type gocvRenderer struct {
	alpha float64
}

// heatmap converts a probability map into a JET-colormapped BGR mat scaled
// to w×h.
func heatmap(pm masks.ProbabilityMap, w, h int) (gocv.Mat, error) {
	buf := make([]byte, len(pm.Data))
	for i, v := range pm.Data {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		buf[i] = uint8(v * 255)
	}
	gray, err := gocv.NewMatFromBytes(pm.Height, pm.Width, gocv.MatTypeCV8U, buf)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "build gray mat")
	}
	defer gray.Close()

	colored := gocv.NewMat()
	gocv.ApplyColorMap(gray, &colored, gocv.ColormapJet)

	if pm.Width != w || pm.Height != h {
		gocv.Resize(colored, &colored, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
	}
	return colored, nil
}

func toBGR(frame image.Image) (gocv.Mat, error) {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "convert frame")
	}
	gocv.CvtColor(mat, &mat, gocv.ColorRGBToBGR)
	return mat, nil
}

func label(mat *gocv.Mat, text string) {
	gocv.PutText(mat, text, image.Pt(10, 30),
		gocv.FontHersheySimplex, 1.0, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 2)
}

// Overlay blends the colormapped mask over the frame.
func (r gocvRenderer) Overlay(frame image.Image, pm masks.ProbabilityMap) (image.Image, error) {
	bounds := frame.Bounds()
	frameMat, err := toBGR(frame)
	if err != nil {
		return nil, err
	}
	defer frameMat.Close()

	heat, err := heatmap(pm, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, err
	}
	defer heat.Close()

	out := gocv.NewMat()
	defer out.Close()
	gocv.AddWeighted(frameMat, 1-r.alpha, heat, r.alpha, 0, &out)

	img, err := out.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "convert overlay")
	}
	return img, nil
}

// Comparison renders the labeled triple panel: original frame, mask before
// stabilization, mask after.
func (r gocvRenderer) Comparison(frame image.Image, before, after masks.ProbabilityMap) (image.Image, error) {
	bounds := frame.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	frameMat, err := toBGR(frame)
	if err != nil {
		return nil, err
	}
	defer frameMat.Close()
	label(&frameMat, "Original")

	beforeMat, err := heatmap(before, w, h)
	if err != nil {
		return nil, err
	}
	defer beforeMat.Close()
	label(&beforeMat, "Before Stabilization")

	afterMat, err := heatmap(after, w, h)
	if err != nil {
		return nil, err
	}
	defer afterMat.Close()
	label(&afterMat, "After Stabilization")

	combined := gocv.NewMat()
	defer combined.Close()
	gocv.Hconcat(frameMat, beforeMat, &combined)
	gocv.Hconcat(combined, afterMat, &combined)

	img, err := combined.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "convert comparison")
	}
	return img, nil
}

// EncodePNG encodes an image to PNG bytes.
func (r gocvRenderer) EncodePNG(img image.Image) ([]byte, error) {
	mat, err := toBGR(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(".png", mat)
	if err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
