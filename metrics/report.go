package metrics

import (
	"math"

	"github.com/nvr-ai/go-maskstab/masks"
)

// Stats summarizes a score series. Std is the population standard deviation.
type Stats struct {
	Mean   float64   `json:"mean"`
	Std    float64   `json:"std"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Scores []float64 `json:"scores"`
}

// Improvement holds the derived before/after deltas. Percentages are defined
// as exactly 0.0 when their denominator is zero, so a perfectly stable
// "before" sequence reports no improvement rather than a division blowup.
type Improvement struct {
	IoUImprovement              float64 `json:"iou_improvement"`
	IoUImprovementPercent       float64 `json:"iou_improvement_percent"`
	InstabilityReduction        float64 `json:"instability_reduction"`
	InstabilityReductionPercent float64 `json:"instability_reduction_percent"`
}

// Report compares the temporal consistency of a sequence before and after
// stabilization. Immutable once computed.
type Report struct {
	IoUBefore         Stats       `json:"iou_before"`
	IoUAfter          Stats       `json:"iou_after"`
	InstabilityBefore Stats       `json:"instability_before"`
	InstabilityAfter  Stats       `json:"instability_after"`
	Improvement       Improvement `json:"improvement"`
}

// Compare builds the full report from the before/after consistency series
// produced by TemporalSeries.
func Compare(before, after []float64) Report {
	instBefore := Instability(before)
	instAfter := Instability(after)

	r := Report{
		IoUBefore:         newStats(before),
		IoUAfter:          newStats(after),
		InstabilityBefore: newStats(instBefore),
		InstabilityAfter:  newStats(instAfter),
	}

	r.Improvement.IoUImprovement = r.IoUAfter.Mean - r.IoUBefore.Mean
	r.Improvement.IoUImprovementPercent = percentOf(r.Improvement.IoUImprovement, r.IoUBefore.Mean)
	r.Improvement.InstabilityReduction = r.InstabilityBefore.Mean - r.InstabilityAfter.Mean
	r.Improvement.InstabilityReductionPercent = percentOf(r.Improvement.InstabilityReduction, r.InstabilityBefore.Mean)
	return r
}

func percentOf(delta, base float64) float64 {
	if base == 0 {
		return 0.0
	}
	return delta / base * 100
}

func newStats(scores []float64) Stats {
	s := Stats{Scores: scores}
	if len(scores) == 0 {
		return s
	}
	s.Min = scores[0]
	s.Max = scores[0]
	var sum float64
	for _, v := range scores {
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Mean = sum / float64(len(scores))

	var sq float64
	for _, v := range scores {
		d := v - s.Mean
		sq += d * d
	}
	s.Std = math.Sqrt(sq / float64(len(scores)))
	return s
}

// SequenceStats describes a single binary mask sequence: the share of
// foreground area per frame and the consistency between adjacent frames.
type SequenceStats struct {
	FrameCount  int   `json:"num_frames"`
	Area        Stats `json:"area"`
	Consistency Stats `json:"temporal_consistency"`
}

// SequenceStatistics computes per-sequence statistics. Area scores are
// percentages of the frame covered by foreground.
func SequenceStatistics(seq []masks.BinaryMask) (SequenceStats, error) {
	series, err := TemporalSeries(seq)
	if err != nil {
		return SequenceStats{}, err
	}

	areas := make([]float64, len(seq))
	for i, m := range seq {
		if len(m.Bits) > 0 {
			areas[i] = 100 * float64(m.Count()) / float64(len(m.Bits))
		}
	}

	return SequenceStats{
		FrameCount:  len(seq),
		Area:        newStats(areas),
		Consistency: newStats(series),
	}, nil
}
