// Package stabilize implements the temporal filters that turn a flickering
// per-frame mask sequence into a temporally stable one.
//
// Four methods are supported, each with distinct numeric semantics:
// moving average and median over a symmetric window (truncated at sequence
// edges, never padded), strictly causal exponential smoothing, and an
// intensity-aware bilateral temporal filter. All methods operate on the
// continuous probability values; binarization happens downstream so that
// quantization error is not compounded.
package stabilize

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-maskstab/masks"
)

// Method selects a stabilization algorithm.
type Method string

const (
	MovingAverage        Method = "moving_average"
	MedianFilter         Method = "median_filter"
	ExponentialSmoothing Method = "exponential_smoothing"
	BilateralTemporal    Method = "bilateral_temporal"
)

var (
	// ErrInvalidParameter marks a method parameter outside its declared
	// domain. Parameters are rejected before any computation starts.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrEmptySequence marks a zero-frame input sequence.
	ErrEmptySequence = errors.New("empty mask sequence")
)

// ParseMethod maps a wire-level method name onto a Method.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MovingAverage, MedianFilter, ExponentialSmoothing, BilateralTemporal:
		return Method(s), nil
	}
	return "", errors.Wrapf(ErrInvalidParameter, "unknown method %q", s)
}

// Params carries the parameters for every method; each method reads only its
// own fields. Window sizes are odd integers in [3,9], alpha lives in
// [0.1,0.9], sigmas must be positive.
type Params struct {
	WindowSize     int     `json:"window_size,omitempty"`
	Alpha          float32 `json:"alpha,omitempty"`
	SigmaTemporal  float32 `json:"sigma_temporal,omitempty"`
	SigmaIntensity float32 `json:"sigma_intensity,omitempty"`
}

// DefaultParams returns the documented defaults for a method.
func DefaultParams(m Method) Params {
	switch m {
	case MovingAverage, MedianFilter:
		return Params{WindowSize: 5}
	case ExponentialSmoothing:
		return Params{Alpha: 0.3}
	case BilateralTemporal:
		return Params{WindowSize: 5, SigmaTemporal: 1.0, SigmaIntensity: 0.1}
	}
	return Params{}
}

// Validate checks the parameter domain for a method.
func (p Params) Validate(m Method) error {
	switch m {
	case MovingAverage, MedianFilter:
		return validateWindow(p.WindowSize)
	case ExponentialSmoothing:
		if p.Alpha < 0.1 || p.Alpha > 0.9 {
			return errors.Wrapf(ErrInvalidParameter, "alpha %v outside [0.1, 0.9]", p.Alpha)
		}
		return nil
	case BilateralTemporal:
		if err := validateWindow(p.WindowSize); err != nil {
			return err
		}
		if p.SigmaTemporal <= 0 {
			return errors.Wrapf(ErrInvalidParameter, "sigma_temporal %v must be > 0", p.SigmaTemporal)
		}
		if p.SigmaIntensity <= 0 {
			return errors.Wrapf(ErrInvalidParameter, "sigma_intensity %v must be > 0", p.SigmaIntensity)
		}
		return nil
	}
	return errors.Wrapf(ErrInvalidParameter, "unknown method %q", m)
}

func validateWindow(w int) error {
	if w < 3 || w > 9 || w%2 == 0 {
		return errors.Wrapf(ErrInvalidParameter, "window_size %d must be an odd integer in [3, 9]", w)
	}
	return nil
}

// Result pairs a stabilized sequence with the method and parameters that
// produced it. The output always has the same length as the input.
type Result struct {
	Sequence masks.Sequence
	Method   Method
	Params   Params
}

// Apply runs one stabilization method over a sequence. Parameters are
// validated up front; the input sequence is never modified.
func Apply(seq masks.Sequence, m Method, p Params) (Result, error) {
	if err := p.Validate(m); err != nil {
		return Result{}, err
	}
	if seq.Len() == 0 {
		return Result{}, ErrEmptySequence
	}

	var out []masks.ProbabilityMap
	switch m {
	case MovingAverage:
		out = movingAverage(seq.Maps, (p.WindowSize-1)/2)
	case MedianFilter:
		out = medianFilter(seq.Maps, (p.WindowSize-1)/2)
	case ExponentialSmoothing:
		out = exponentialSmoothing(seq.Maps, p.Alpha)
	case BilateralTemporal:
		out = bilateralTemporal(seq.Maps, (p.WindowSize-1)/2, p.SigmaTemporal, p.SigmaIntensity)
	}

	stabilized, err := masks.NewSequence(out)
	if err != nil {
		return Result{}, err
	}
	return Result{Sequence: stabilized, Method: m, Params: p}, nil
}
