package segmentation

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractProbabilitySoftmax(t *testing.T) {
	d := &DeepLab{cfg: DeepLabConfig{InputSize: 1, NumClasses: 3}}

	// Single pixel, logits {0, 2, 0}: channel 1 dominates.
	logits := []float32{0, 2, 0}

	person := Class{Name: "a", Channel: 1}
	pm := d.extractProbability(logits, person)
	require.Equal(t, 1, pm.Width)
	assert.InDelta(t, 0.7869, float64(pm.Data[0]), 1e-3)

	other := Class{Name: "b", Channel: 2}
	pm = d.extractProbability(logits, other)
	assert.InDelta(t, 0.1065, float64(pm.Data[0]), 1e-3)
}

func TestExtractProbabilityWildcardTakesBestForeground(t *testing.T) {
	d := &DeepLab{cfg: DeepLabConfig{InputSize: 1, NumClasses: 4}}

	// Background (channel 0) has the top logit; the wildcard must still
	// report the strongest foreground channel, not the background.
	logits := []float32{3, 1, 2, 0}
	pm := d.extractProbability(logits, ClassAll)

	// softmax over {3,1,2,0}; channel 2 is the best foreground.
	assert.InDelta(t, 0.2369, float64(pm.Data[0]), 1e-3)
}

func TestPrepareInputNormalization(t *testing.T) {
	const size = 4
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 0, A: 255})
		}
	}

	dst := make([]float32, 3*size*size)
	prepareInput(img, dst, size)

	plane := size * size
	// Red channel: (1.0 - mean) / std.
	assert.InDelta(t, (1.0-0.485)/0.229, float64(dst[0]), 1e-3)
	// Green channel: (0.0 - mean) / std.
	assert.InDelta(t, (0.0-0.456)/0.224, float64(dst[plane]), 1e-3)
	// Blue channel: (0.0 - mean) / std.
	assert.InDelta(t, (0.0-0.406)/0.225, float64(dst[2*plane]), 1e-3)
}

func TestSegmentRejectsChannelOutsideModel(t *testing.T) {
	d := &DeepLab{cfg: DeepLabConfig{InputSize: 2, NumClasses: 21}}
	_, err := d.Segment(t.Context(), image.NewRGBA(image.Rect(0, 0, 2, 2)), Class{Name: "cow", Channel: 21})
	assert.Error(t, err, "VOC head has no channel 21")
}
