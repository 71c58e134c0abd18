// Package metrics quantifies the temporal stability of a binary mask
// sequence and the improvement delivered by stabilization.
//
// The primary signal is the IoU between temporally adjacent masks; its
// complement (1 - IoU) is the instability score used as a flicker proxy.
package metrics

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-maskstab/masks"
)

// ErrInsufficientFrames marks a sequence with fewer than two frames; no
// transition exists to score.
var ErrInsufficientFrames = errors.New("insufficient frames")

// IoU returns the Intersection-over-Union of two binary masks in [0,1].
// Two empty masks are defined as identical (IoU 1.0); the division by a zero
// union never happens. Masks must share dimensions, which the Sequence
// invariant guarantees upstream.
func IoU(a, b masks.BinaryMask) float64 {
	var intersection, union int
	for i := range a.Bits {
		if a.Bits[i] && b.Bits[i] {
			intersection++
		}
		if a.Bits[i] || b.Bits[i] {
			union++
		}
	}
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

// Dice returns the Dice coefficient 2|A∩B| / (|A|+|B|) in [0,1], with the
// same empty-empty convention as IoU.
func Dice(a, b masks.BinaryMask) float64 {
	var intersection, total int
	for i := range a.Bits {
		if a.Bits[i] && b.Bits[i] {
			intersection++
		}
		if a.Bits[i] {
			total++
		}
		if b.Bits[i] {
			total++
		}
	}
	if total == 0 {
		return 1.0
	}
	return 2 * float64(intersection) / float64(total)
}

// TemporalSeries returns the IoU between each pair of consecutive masks:
// n-1 values for an n-frame sequence.
func TemporalSeries(seq []masks.BinaryMask) ([]float64, error) {
	if len(seq) < 2 {
		return nil, errors.Wrapf(ErrInsufficientFrames, "%d frame(s), need at least 2", len(seq))
	}
	series := make([]float64, len(seq)-1)
	for i := 0; i < len(seq)-1; i++ {
		series[i] = IoU(seq[i], seq[i+1])
	}
	return series, nil
}

// Instability maps a consistency series onto 1 - IoU per transition.
func Instability(series []float64) []float64 {
	out := make([]float64, len(series))
	for i, v := range series {
		out[i] = 1 - v
	}
	return out
}
