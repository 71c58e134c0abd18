package masks

// ResizeBilinear scales a probability map to w×h using bilinear interpolation.
// Model outputs come back at the network's input resolution and are upscaled
// to the frame resolution before entering the pipeline; bilinear keeps the
// probability field smooth, where nearest-neighbor would quantize the 0.5
// contour.
func ResizeBilinear(m ProbabilityMap, w, h int) ProbabilityMap {
	if w == m.Width && h == m.Height {
		return m.Clone()
	}
	out := NewProbabilityMap(w, h)
	if w <= 0 || h <= 0 || m.Width <= 0 || m.Height <= 0 {
		return out
	}

	xScale := float64(m.Width) / float64(w)
	yScale := float64(m.Height) / float64(h)

	for y := 0; y < h; y++ {
		// Sample at pixel centers so the grid does not drift half a pixel.
		srcY := (float64(y)+0.5)*yScale - 0.5
		y0 := clampIndex(int(srcY), m.Height)
		y1 := clampIndex(y0+1, m.Height)
		fy := float32(srcY - float64(y0))
		if fy < 0 {
			fy = 0
		}
		for x := 0; x < w; x++ {
			srcX := (float64(x)+0.5)*xScale - 0.5
			x0 := clampIndex(int(srcX), m.Width)
			x1 := clampIndex(x0+1, m.Width)
			fx := float32(srcX - float64(x0))
			if fx < 0 {
				fx = 0
			}

			top := m.At(x0, y0)*(1-fx) + m.At(x1, y0)*fx
			bot := m.At(x0, y1)*(1-fx) + m.At(x1, y1)*fx
			out.Set(x, y, top*(1-fy)+bot*fy)
		}
	}
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
