package sonify

import "math"

// Default parameter values, matching the interactive demo's slider defaults.
const (
	DefaultF0         = 440.0
	DefaultAlpha      = 500.0
	DefaultBeta       = 300.0
	DefaultBlurRadius = 3.0
	DefaultDepthScale = 1.0
	DefaultGamma      = 1.0
	DefaultVolume     = 0.8
	DefaultReverb     = 0.3
	DefaultRowStep    = 20
	DefaultColStep    = 10
)

// Parameter bounds enforced by [Params.Normalize].
const (
	maxBlurRadius = 10.0
	maxDepthScale = 100.0
	maxGamma      = 8.0
	maxReverb     = 0.95
	maxGain       = 1e6
)

// Params is the complete control surface of the mapping pipeline. A Params
// value is an immutable snapshot: the control layer builds a new value and
// publishes it atomically; pipeline stages read one snapshot per pass and
// never observe a partial update.
type Params struct {
	// F0 is the base frequency in Hz.
	F0 float64

	// Alpha is the depth→frequency gain in Hz per depth unit.
	Alpha float64

	// Beta is the angle→frequency gain in Hz per unit of theta.
	Beta float64

	// BlurRadius is the gaussian sigma applied before edge detection.
	// Zero disables smoothing.
	BlurRadius float64

	// DepthScale is the upper bound of the depth-proxy range.
	DepthScale float64

	// Gamma shapes amplitude: amplitude = intensity^Gamma. Values above 1
	// suppress dim pixels.
	Gamma float64

	// Volume is the final linear output gain in [0, 1].
	Volume float64

	// Reverb is the wet/dry mix of the feedback-comb reverb in [0, 0.95].
	Reverb float64

	// RowStep and ColStep are the sampling strides, at least 1.
	RowStep int
	ColStep int
}

// DefaultParams returns the demo's default parameter set.
func DefaultParams() Params {
	return Params{
		F0:         DefaultF0,
		Alpha:      DefaultAlpha,
		Beta:       DefaultBeta,
		BlurRadius: DefaultBlurRadius,
		DepthScale: DefaultDepthScale,
		Gamma:      DefaultGamma,
		Volume:     DefaultVolume,
		Reverb:     DefaultReverb,
		RowStep:    DefaultRowStep,
		ColStep:    DefaultColStep,
	}
}

// Normalize clamps every field into its documented range and returns the
// result. Out-of-range values are clipped, NaN and infinite values fall back
// to the defaults. Normalize never fails: any finite or non-finite input
// produces a usable parameter set, so the render loop cannot be crashed
// through the control surface.
func (p Params) Normalize() Params {
	p.F0 = clampOr(p.F0, DefaultBand.Low, DefaultBand.High, DefaultF0)
	p.Alpha = clampOr(p.Alpha, -maxGain, maxGain, DefaultAlpha)
	p.Beta = clampOr(p.Beta, -maxGain, maxGain, DefaultBeta)
	p.BlurRadius = clampOr(p.BlurRadius, 0, maxBlurRadius, DefaultBlurRadius)
	p.Gamma = clampOr(p.Gamma, 0.01, maxGamma, DefaultGamma)
	p.Volume = clampOr(p.Volume, 0, 1, DefaultVolume)
	p.Reverb = clampOr(p.Reverb, 0, maxReverb, DefaultReverb)

	if math.IsNaN(p.DepthScale) || math.IsInf(p.DepthScale, 0) {
		p.DepthScale = DefaultDepthScale
	} else if p.DepthScale <= 0 {
		p.DepthScale = DefaultDepthScale
	} else if p.DepthScale > maxDepthScale {
		p.DepthScale = maxDepthScale
	}

	if p.RowStep < 1 {
		p.RowStep = 1
	}
	if p.ColStep < 1 {
		p.ColStep = 1
	}
	return p
}

// clampOr clips v into [lo, hi]; NaN and infinities are replaced by def.
func clampOr(v, lo, hi, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
