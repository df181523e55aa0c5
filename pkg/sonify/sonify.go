// Package sonify maps sampled image points to tone events.
//
// The core of the mapping is one line: f = f0 + α·depth + β·theta. Everything
// else in the package exists to keep that line safe — frequency clamping into
// an audible band, amplitude shaping, pan clamping — and to carry the
// per-frame result ([ToneSet]) between the vision and audio cadences.
package sonify

import (
	"math"

	"github.com/echolens/sonavision/pkg/vision/sample"
)

// Band is an inclusive frequency range in Hz. Mapped frequencies are hard
// clipped at the band edges — no wraparound.
type Band struct {
	Low  float64
	High float64
}

// DefaultBand spans the nominal human hearing range.
var DefaultBand = Band{Low: 20, High: 20000}

// Clamp clips f into the band.
func (b Band) Clamp(f float64) float64 {
	if f < b.Low {
		return b.Low
	}
	if f > b.High {
		return b.High
	}
	return f
}

// Tone is a single oscillator specification contributed by one sampled pixel:
// frequency in Hz, amplitude in [0, 1], pan in [-1, +1].
type Tone struct {
	Frequency float64
	Amplitude float64
	Pan       float64
}

// ToneSet is the ordered tone list of one processed frame. Seq is the source
// frame's sequence number; the audio loop uses it to distinguish a fresh set
// from a re-read of the set it already rendered.
type ToneSet struct {
	Seq   uint64
	Tones []Tone
}

// Mapper converts sample points to tones. The zero value uses [DefaultBand].
// Mapping is pure and stateless: identical inputs always yield identical
// tones.
type Mapper struct {
	Band Band
}

// Tone maps one sampled point under the given parameters.
func (m Mapper) Tone(p sample.Point, par Params) Tone {
	band := m.Band
	if band.High <= band.Low {
		band = DefaultBand
	}

	freq := par.F0 + par.Alpha*p.Depth + par.Beta*p.Theta
	if math.IsNaN(freq) {
		freq = par.F0
	}

	amp := p.Intensity
	if amp < 0 {
		amp = 0
	} else if amp > 1 {
		amp = 1
	}
	if par.Gamma != 1 && par.Gamma > 0 {
		amp = math.Pow(amp, par.Gamma)
	}

	pan := p.Theta
	if pan < -1 {
		pan = -1
	} else if pan > 1 {
		pan = 1
	}

	return Tone{
		Frequency: band.Clamp(freq),
		Amplitude: amp,
		Pan:       pan,
	}
}

// MapAll maps a slice of points to a ToneSet tagged with seq. The tone order
// mirrors the point order.
func (m Mapper) MapAll(points []sample.Point, par Params, seq uint64) *ToneSet {
	set := &ToneSet{Seq: seq, Tones: make([]Tone, len(points))}
	for i, p := range points {
		set.Tones[i] = m.Tone(p, par)
	}
	return set
}
