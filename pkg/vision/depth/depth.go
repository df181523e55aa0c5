// Package depth derives a per-pixel depth proxy from a grayscale frame.
//
// "Depth" here is edge strength, not range: a gaussian blur suppresses sensor
// noise, a Sobel operator measures the local gradient, and the gradient
// magnitude — normalized per frame and scaled into [0, depthScale] — is the
// proxy value. Strong edges read as close, flat regions as silent. The whole
// computation is a pure function of its inputs.
package depth

import (
	"math"

	"github.com/echolens/sonavision/pkg/vision"
)

// Map is a per-pixel depth-proxy grid with the same dimensions as the frame
// it was derived from. Values are non-negative, at most the depthScale passed
// to [Estimate].
type Map struct {
	Width  int
	Height int
	Depth  []float64
}

// At returns the depth value at (row, col). No bounds check.
func (m Map) At(row, col int) float64 {
	return m.Depth[row*m.Width+col]
}

// Max returns the largest depth value in the map, or 0 for an empty map.
func (m Map) Max() float64 {
	max := 0.0
	for _, d := range m.Depth {
		if d > max {
			max = d
		}
	}
	return max
}

// gradientFloor is the largest Sobel magnitude still treated as zero. The
// blur leaves a uniform frame with float residue on the order of 1e-16;
// without a floor, per-frame max normalization would blow that noise up to
// full depthScale.
const gradientFloor = 1e-9

// Estimate computes the depth-proxy map for a frame.
//
// blurRadius is the gaussian sigma; values <= 0 skip the blur entirely.
// depthScale is the upper bound of the output range; values <= 0 yield an
// all-zero map. A frame with no gradient at all (uniform intensity) also
// yields an all-zero map. Frame edges use replicated boundary handling.
func Estimate(f vision.Frame, blurRadius, depthScale float64) Map {
	if f.Empty() {
		return Map{}
	}

	m := Map{Width: f.Width, Height: f.Height, Depth: make([]float64, f.Width*f.Height)}
	if depthScale <= 0 || math.IsNaN(depthScale) {
		return m
	}

	pix := f.Pix
	if blurRadius > 0 && !math.IsNaN(blurRadius) {
		pix = gaussianBlur(pix, f.Width, f.Height, blurRadius)
	}

	maxMag := 0.0
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			gx, gy := sobelAt(pix, f.Width, f.Height, x, y)
			mag := math.Hypot(gx, gy)
			m.Depth[y*f.Width+x] = mag
			if mag > maxMag {
				maxMag = mag
			}
		}
	}

	// Uniform frame: no edges, no depth. The map may hold sub-floor residue
	// from the blurred convolution, so reset it to exact zeros.
	if maxMag < gradientFloor {
		clear(m.Depth)
		return m
	}

	scale := depthScale / maxMag
	for i := range m.Depth {
		m.Depth[i] *= scale
	}
	return m
}

// Sobel 3×3 kernels, replicated boundaries.
var (
	sobelX = [3][3]float64{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelY = [3][3]float64{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

func sobelAt(pix []float64, w, h, x, y int) (gx, gy float64) {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			v := pix[clampIndex(y+dy, h)*w+clampIndex(x+dx, w)]
			gx += sobelX[dy+1][dx+1] * v
			gy += sobelY[dy+1][dx+1] * v
		}
	}
	return gx, gy
}

// gaussianBlur applies a separable gaussian with the given sigma. Kernel
// half-width is ceil(3·sigma), boundaries replicated.
func gaussianBlur(pix []float64, w, h int, sigma float64) []float64 {
	half := int(math.Ceil(3 * sigma))
	if half < 1 {
		half = 1
	}
	kernel := make([]float64, 2*half+1)
	sum := 0.0
	for i := range kernel {
		d := float64(i - half)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	// Horizontal pass.
	tmp := make([]float64, len(pix))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := 0.0
			for k := -half; k <= half; k++ {
				acc += kernel[k+half] * pix[y*w+clampIndex(x+k, w)]
			}
			tmp[y*w+x] = acc
		}
	}

	// Vertical pass.
	out := make([]float64, len(pix))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := 0.0
			for k := -half; k <= half; k++ {
				acc += kernel[k+half] * tmp[clampIndex(y+k, h)*w+x]
			}
			out[y*w+x] = acc
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
