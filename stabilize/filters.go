package stabilize

import (
	"sort"

	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-maskstab/masks"
)

// window returns the [start, end) frame bounds of a symmetric window of half
// width half centered at i, truncated to the sequence. Out-of-sequence
// neighbors are absent, not zero: every consumer divides or normalizes by the
// actual member count.
func window(i, n, half int) (int, int) {
	start := i - half
	if start < 0 {
		start = 0
	}
	end := i + half + 1
	if end > n {
		end = n
	}
	return start, end
}

// movingAverage computes the per-pixel arithmetic mean over the truncated
// window. half = 0 degenerates to the identity transform.
func movingAverage(in []masks.ProbabilityMap, half int) []masks.ProbabilityMap {
	n := len(in)
	out := make([]masks.ProbabilityMap, n)
	for i := range in {
		start, end := window(i, n, half)
		m := masks.NewProbabilityMap(in[i].Width, in[i].Height)
		for j := start; j < end; j++ {
			src := in[j].Data
			for p := range m.Data {
				m.Data[p] += src[p]
			}
		}
		inv := 1.0 / float32(end-start)
		for p := range m.Data {
			m.Data[p] *= inv
		}
		out[i] = m
	}
	return out
}

// medianFilter computes the per-pixel median over the truncated window.
// Boundary windows can hold an even number of frames; the median is then the
// mean of the two middle values.
func medianFilter(in []masks.ProbabilityMap, half int) []masks.ProbabilityMap {
	n := len(in)
	out := make([]masks.ProbabilityMap, n)
	buf := make([]float32, 0, 2*half+1)
	for i := range in {
		start, end := window(i, n, half)
		m := masks.NewProbabilityMap(in[i].Width, in[i].Height)
		for p := range m.Data {
			buf = buf[:0]
			for j := start; j < end; j++ {
				buf = append(buf, in[j].Data[p])
			}
			m.Data[p] = median(buf)
		}
		out[i] = m
	}
	return out
}

// median mutates its scratch argument. Windows hold at most 9 values, so a
// plain sort beats selection tricks here.
func median(v []float32) float32 {
	sort.Slice(v, func(a, b int) bool { return v[a] < v[b] })
	k := len(v)
	if k%2 == 1 {
		return v[k/2]
	}
	return (v[k/2-1] + v[k/2]) / 2
}

// exponentialSmoothing runs the causal recursion out[t] = alpha*in[t] +
// (1-alpha)*out[t-1], seeded with out[0] = in[0]. Each output depends on all
// preceding outputs, so this is a single forward pass and must never be
// parallelized across frames.
func exponentialSmoothing(in []masks.ProbabilityMap, alpha float32) []masks.ProbabilityMap {
	n := len(in)
	out := make([]masks.ProbabilityMap, n)
	out[0] = in[0].Clone()
	for t := 1; t < n; t++ {
		m := masks.NewProbabilityMap(in[t].Width, in[t].Height)
		prev := out[t-1].Data
		cur := in[t].Data
		for p := range m.Data {
			m.Data[p] = alpha*cur[p] + (1-alpha)*prev[p]
		}
		out[t] = m
	}
	return out
}

// bilateralTemporal computes a per-pixel weighted average over the truncated
// window where each neighbor's weight is the product of a temporal Gaussian
// on frame distance and an intensity Gaussian on its probability distance to
// the center frame. Pixels whose probability diverges sharply from the center
// are downweighted even inside the window, which preserves genuine edges that
// the mean and median would blur.
func bilateralTemporal(in []masks.ProbabilityMap, half int, sigmaT, sigmaI float32) []masks.ProbabilityMap {
	n := len(in)
	out := make([]masks.ProbabilityMap, n)

	// Temporal weights depend only on the frame offset.
	temporal := make([]float32, half+1)
	for d := 0; d <= half; d++ {
		temporal[d] = math32.Exp(-float32(d*d) / (2 * sigmaT * sigmaT))
	}
	invTwoSigmaI := 1 / (2 * sigmaI * sigmaI)

	for i := range in {
		start, end := window(i, n, half)
		center := in[i].Data
		m := masks.NewProbabilityMap(in[i].Width, in[i].Height)
		for p := range m.Data {
			var weighted, total float32
			for j := start; j < end; j++ {
				d := j - i
				if d < 0 {
					d = -d
				}
				diff := in[j].Data[p] - center[p]
				w := temporal[d] * math32.Exp(-diff*diff*invTwoSigmaI)
				weighted += w * in[j].Data[p]
				total += w
			}
			// The center frame always contributes weight 1, but guard the
			// degenerate float case anyway.
			if total < 1e-8 {
				total = 1e-8
			}
			m.Data[p] = weighted / total
		}
		out[i] = m
	}
	return out
}
