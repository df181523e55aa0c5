// Package synth renders tone sets into stereo audio blocks.
//
// A [Synth] is an oscillator bank with per-tone phase carried across blocks,
// so a tone held over several frames produces one continuous sine instead of
// a click per block. Rendering one block is a plain synchronous call; pacing
// and sink I/O belong to the caller.
//
// Signal chain per block: sine sum with equal-split pan law → 1/√N mix scale
// → feedback-comb reverb → volume gain → hard limiter at ±1.
package synth

import (
	"math"

	"github.com/echolens/sonavision/pkg/audio"
	"github.com/echolens/sonavision/pkg/sonify"
)

const (
	// ampRampMs is the length of the per-tone amplitude ramp at the start of
	// each block. Ramping from the previous block's amplitude keeps tone-set
	// swaps click-free.
	ampRampMs = 5

	// fadeFactor is the per-sample decay applied when no tone set is
	// available, matching the demo's fade-to-silence behaviour.
	fadeFactor = 0.95

	// silenceFloor is -90 dBFS. Once the fade tail drops below it the synth
	// flushes all state and emits exact digital zeros.
	silenceFloor = 3.2e-5

	// Reverb tuning: 50 ms feedback comb.
	reverbDelayMs  = 50
	reverbFeedback = 0.6
)

// Synth renders successive fixed-size stereo blocks from tone sets. Not safe
// for concurrent use; one Synth belongs to one render loop.
type Synth struct {
	sampleRate int
	blockSize  int

	// Oscillator state, indexed by tone position in the set.
	phases   []float64
	lastAmps []float64

	// Tail of the previous block, for the empty-set fade.
	lastL, lastR float64

	revL, revR *comb
}

// New creates a synthesizer for the given session sample rate and block size
// (stereo frames per block). Out-of-range values fall back to 44100/1024.
func New(sampleRate, blockSize int) *Synth {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	if blockSize <= 0 {
		blockSize = 1024
	}
	delay := sampleRate * reverbDelayMs / 1000
	return &Synth{
		sampleRate: sampleRate,
		blockSize:  blockSize,
		revL:       newComb(delay),
		revR:       newComb(delay),
	}
}

// SampleRate returns the session sample rate in Hz.
func (s *Synth) SampleRate() int { return s.sampleRate }

// BlockSize returns the block length in stereo frames.
func (s *Synth) BlockSize() int { return s.blockSize }

// Render produces the next audio block from set under the given parameters.
// A nil or empty set fades the previous block's tail toward silence; a fresh
// synthesizer with no tail renders exact digital zeros. No sample in the
// returned buffer ever exceeds ±1.
func (s *Synth) Render(set *sonify.ToneSet, par sonify.Params) audio.Buffer {
	buf := audio.Buffer{
		Data:       make([]float32, s.blockSize*2),
		SampleRate: s.sampleRate,
	}

	if set == nil || len(set.Tones) == 0 {
		s.renderFade(buf.Data)
		return buf
	}

	s.resizeBank(len(set.Tones))

	scale := 1 / math.Sqrt(float64(len(set.Tones)))
	ramp := s.sampleRate * ampRampMs / 1000
	if ramp < 1 {
		ramp = 1
	}
	if ramp > s.blockSize {
		ramp = s.blockSize
	}

	var l, r float64
	for n := 0; n < s.blockSize; n++ {
		l, r = 0, 0

		// Ramp progress: 0 → 1 over the first ramp samples.
		t := 1.0
		if n < ramp {
			t = float64(n) / float64(ramp)
		}

		for i, tone := range set.Tones {
			amp := s.lastAmps[i] + (tone.Amplitude-s.lastAmps[i])*t
			v := amp * math.Sin(2*math.Pi*s.phases[i])
			s.phases[i] += tone.Frequency / float64(s.sampleRate)
			if s.phases[i] >= 1 {
				s.phases[i] -= math.Floor(s.phases[i])
			}
			l += v * (1 - tone.Pan) / 2
			r += v * (1 + tone.Pan) / 2
		}

		l *= scale
		r *= scale

		if par.Reverb > 0 {
			l = s.revL.process(l, par.Reverb)
			r = s.revR.process(r, par.Reverb)
		}

		l = clampUnit(l * par.Volume)
		r = clampUnit(r * par.Volume)

		buf.Data[n*2] = float32(l)
		buf.Data[n*2+1] = float32(r)
	}

	for i, tone := range set.Tones {
		s.lastAmps[i] = tone.Amplitude
	}
	s.lastL, s.lastR = l, r
	return buf
}

// renderFade decays the previous block's tail by fadeFactor per sample. Once
// the tail is below the silence floor, all state resets and the output is
// bit-exact silence.
func (s *Synth) renderFade(data []float32) {
	if math.Abs(s.lastL) < silenceFloor && math.Abs(s.lastR) < silenceFloor {
		s.reset()
		return // data is already all zeros
	}

	l, r := s.lastL, s.lastR
	for n := 0; n < len(data)/2; n++ {
		l *= fadeFactor
		r *= fadeFactor
		data[n*2] = float32(l)
		data[n*2+1] = float32(r)
	}
	s.lastL, s.lastR = l, r
}

// resizeBank grows or shrinks the oscillator state to n tones. Surviving
// indices keep their phase for continuity; new tones start at phase zero with
// a zero previous amplitude, so they ramp in.
func (s *Synth) resizeBank(n int) {
	switch {
	case len(s.phases) > n:
		s.phases = s.phases[:n]
		s.lastAmps = s.lastAmps[:n]
	case len(s.phases) < n:
		s.phases = append(s.phases, make([]float64, n-len(s.phases))...)
		s.lastAmps = append(s.lastAmps, make([]float64, n-len(s.lastAmps))...)
	}
}

// reset clears all oscillator, fade, and reverb state.
func (s *Synth) reset() {
	s.phases = s.phases[:0]
	s.lastAmps = s.lastAmps[:0]
	s.lastL, s.lastR = 0, 0
	s.revL.clear()
	s.revR.clear()
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// comb is a single-channel feedback comb filter used as the reverb stage.
type comb struct {
	line []float64
	pos  int
}

func newComb(delay int) *comb {
	if delay < 1 {
		delay = 1
	}
	return &comb{line: make([]float64, delay)}
}

// process mixes the delayed signal into the dry input at the given wet/dry
// ratio and feeds the line back with a fixed feedback gain.
func (c *comb) process(dry, wet float64) float64 {
	delayed := c.line[c.pos]
	out := dry*(1-wet) + delayed*wet
	c.line[c.pos] = dry + delayed*reverbFeedback
	c.pos++
	if c.pos >= len(c.line) {
		c.pos = 0
	}
	return out
}

func (c *comb) clear() {
	for i := range c.line {
		c.line[i] = 0
	}
	c.pos = 0
}
