// Package masks defines the probability-map and binary-mask data model shared
// by the segmentation, stabilization and metrics layers.
//
// A ProbabilityMap is a per-pixel class-membership score grid in [0,1] for a
// single frame. A BinaryMask is the thresholded form consumed by the overlap
// metrics. A Sequence is the ordered, gapless run of maps covering a video.
// All three are value types; producers hand them over and never mutate them
// afterwards.
package masks

import (
	"github.com/pkg/errors"
)

// DefaultThreshold is the binarization cutoff applied identically to the pre-
// and post-stabilization probability sequences.
const DefaultThreshold float32 = 0.5

// ProbabilityMap is a 2D grid of per-pixel scores in [0,1], stored row-major.
type ProbabilityMap struct {
	Width  int
	Height int
	Data   []float32
}

// NewProbabilityMap allocates a zeroed w×h map.
func NewProbabilityMap(w, h int) ProbabilityMap {
	return ProbabilityMap{Width: w, Height: h, Data: make([]float32, w*h)}
}

// At returns the score at (x, y). Bounds are the caller's responsibility.
func (m ProbabilityMap) At(x, y int) float32 {
	return m.Data[y*m.Width+x]
}

// Set writes the score at (x, y).
func (m ProbabilityMap) Set(x, y int, v float32) {
	m.Data[y*m.Width+x] = v
}

// Clone returns a deep copy.
func (m ProbabilityMap) Clone() ProbabilityMap {
	out := ProbabilityMap{Width: m.Width, Height: m.Height, Data: make([]float32, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// BinaryMask is a 2D grid of booleans, stored row-major.
type BinaryMask struct {
	Width  int
	Height int
	Bits   []bool
}

// At returns the bit at (x, y).
func (m BinaryMask) At(x, y int) bool {
	return m.Bits[y*m.Width+x]
}

// Count returns the number of foreground pixels.
func (m BinaryMask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Binarize thresholds a probability map into a binary mask. Pixels at exactly
// the threshold count as foreground; the moving-average filter places boundary
// pixels of an alternating sequence exactly on 0.5, and those must survive.
func Binarize(m ProbabilityMap, threshold float32) BinaryMask {
	out := BinaryMask{Width: m.Width, Height: m.Height, Bits: make([]bool, len(m.Data))}
	for i, v := range m.Data {
		out.Bits[i] = v >= threshold
	}
	return out
}

// Sequence is an ordered, contiguous run of probability maps with uniform
// dimensions, one per frame index.
type Sequence struct {
	Width  int
	Height int
	Maps   []ProbabilityMap
}

// NewSequence validates that all maps share identical dimensions and builds
// the sequence. At least one map is required.
func NewSequence(maps []ProbabilityMap) (Sequence, error) {
	if len(maps) == 0 {
		return Sequence{}, errors.New("sequence requires at least one map")
	}
	w, h := maps[0].Width, maps[0].Height
	for i, m := range maps {
		if m.Width != w || m.Height != h {
			return Sequence{}, errors.Errorf(
				"map %d is %dx%d, sequence is %dx%d", i, m.Width, m.Height, w, h)
		}
		if len(m.Data) != w*h {
			return Sequence{}, errors.Errorf("map %d has %d values, want %d", i, len(m.Data), w*h)
		}
	}
	return Sequence{Width: w, Height: h, Maps: maps}, nil
}

// Len returns the number of frames covered by the sequence.
func (s Sequence) Len() int {
	return len(s.Maps)
}

// Binarized thresholds every map in order.
func (s Sequence) Binarized(threshold float32) []BinaryMask {
	out := make([]BinaryMask, len(s.Maps))
	for i, m := range s.Maps {
		out[i] = Binarize(m, threshold)
	}
	return out
}
