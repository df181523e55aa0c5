package sonify_test

import (
	"math"
	"testing"

	"github.com/echolens/sonavision/pkg/sonify"
	"github.com/echolens/sonavision/pkg/vision/sample"
)

func TestBand_Clamp(t *testing.T) {
	b := sonify.Band{Low: 20, High: 20000}

	tests := []struct {
		in, want float64
	}{
		{440, 440},
		{19.9, 20},
		{-500, 20},
		{20000, 20000},
		{25000, 20000},
		{20, 20},
	}
	for _, tc := range tests {
		if got := b.Clamp(tc.in); got != tc.want {
			t.Errorf("Clamp(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestMapper_FrequencyFormula(t *testing.T) {
	var m sonify.Mapper
	par := sonify.DefaultParams() // f0=440, alpha=500, beta=300

	tests := []struct {
		name     string
		p        sample.Point
		wantFreq float64
	}{
		{"origin", sample.Point{Depth: 0, Theta: 0, Intensity: 1}, 440},
		{"full depth", sample.Point{Depth: 1, Theta: 0, Intensity: 1}, 940},
		{"hard right", sample.Point{Depth: 0, Theta: 1, Intensity: 1}, 740},
		{"hard left", sample.Point{Depth: 0, Theta: -1, Intensity: 1}, 140},
		{"combined", sample.Point{Depth: 1, Theta: 1, Intensity: 1}, 1240},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := m.Tone(tc.p, par)
			if math.Abs(got.Frequency-tc.wantFreq) > 1e-9 {
				t.Errorf("Frequency = %v, want %v", got.Frequency, tc.wantFreq)
			}
		})
	}
}

func TestMapper_FrequencyHardClipped(t *testing.T) {
	var m sonify.Mapper
	par := sonify.DefaultParams()

	// Depth large enough to push past 20 kHz.
	par.Alpha = 500
	high := m.Tone(sample.Point{Depth: 100, Intensity: 1}, par)
	if high.Frequency != 20000 {
		t.Errorf("Frequency = %v, want clipped to 20000", high.Frequency)
	}

	// Theta pulling below 20 Hz.
	par.Beta = 1000
	low := m.Tone(sample.Point{Theta: -1, Intensity: 1}, par)
	if low.Frequency != 20 {
		t.Errorf("Frequency = %v, want clipped to 20", low.Frequency)
	}
}

func TestMapper_AmplitudeGamma(t *testing.T) {
	var m sonify.Mapper
	par := sonify.DefaultParams()
	par.Gamma = 2

	got := m.Tone(sample.Point{Intensity: 0.5, Theta: 0}, par)
	if math.Abs(got.Amplitude-0.25) > 1e-12 {
		t.Errorf("Amplitude = %v, want 0.25 (0.5^2)", got.Amplitude)
	}

	// Gamma 1 leaves intensity untouched.
	par.Gamma = 1
	got = m.Tone(sample.Point{Intensity: 0.73}, par)
	if got.Amplitude != 0.73 {
		t.Errorf("Amplitude = %v, want 0.73", got.Amplitude)
	}
}

func TestMapper_AmplitudeClampedToUnit(t *testing.T) {
	var m sonify.Mapper
	par := sonify.DefaultParams()

	if got := m.Tone(sample.Point{Intensity: 1.5}, par); got.Amplitude != 1 {
		t.Errorf("Amplitude = %v, want 1", got.Amplitude)
	}
	if got := m.Tone(sample.Point{Intensity: -0.2}, par); got.Amplitude != 0 {
		t.Errorf("Amplitude = %v, want 0", got.Amplitude)
	}
}

func TestMapper_PanFollowsThetaClamped(t *testing.T) {
	var m sonify.Mapper
	par := sonify.DefaultParams()

	if got := m.Tone(sample.Point{Theta: 0.5}, par); got.Pan != 0.5 {
		t.Errorf("Pan = %v, want 0.5", got.Pan)
	}
	if got := m.Tone(sample.Point{Theta: 2}, par); got.Pan != 1 {
		t.Errorf("Pan = %v, want 1", got.Pan)
	}
	if got := m.Tone(sample.Point{Theta: -2}, par); got.Pan != -1 {
		t.Errorf("Pan = %v, want -1", got.Pan)
	}
}

func TestMapper_NaNFrequencyFallsBackToF0(t *testing.T) {
	var m sonify.Mapper
	par := sonify.DefaultParams()

	got := m.Tone(sample.Point{Depth: math.NaN(), Intensity: 1}, par)
	if got.Frequency != par.F0 {
		t.Errorf("Frequency = %v, want F0 %v", got.Frequency, par.F0)
	}
}

func TestMapAll_OrderAndSeq(t *testing.T) {
	var m sonify.Mapper
	par := sonify.DefaultParams()
	points := []sample.Point{
		{Theta: -1, Intensity: 0.1},
		{Theta: 0, Intensity: 0.2},
		{Theta: 1, Intensity: 0.3},
	}

	set := m.MapAll(points, par, 42)
	if set.Seq != 42 {
		t.Errorf("Seq = %d, want 42", set.Seq)
	}
	if len(set.Tones) != 3 {
		t.Fatalf("len(Tones) = %d, want 3", len(set.Tones))
	}
	for i, p := range points {
		want := m.Tone(p, par)
		if set.Tones[i] != want {
			t.Errorf("Tones[%d] = %+v, want %+v", i, set.Tones[i], want)
		}
	}
}

func TestMapper_Deterministic(t *testing.T) {
	var m sonify.Mapper
	par := sonify.DefaultParams()
	p := sample.Point{Row: 3, Col: 7, Intensity: 0.6, Depth: 0.4, Theta: 0.2}

	a := m.Tone(p, par)
	b := m.Tone(p, par)
	if a != b {
		t.Errorf("identical inputs gave different tones: %+v vs %+v", a, b)
	}
}

func TestNormalize_ClampTable(t *testing.T) {
	tests := []struct {
		name string
		in   sonify.Params
		want func(p sonify.Params) bool
		desc string
	}{
		{
			name: "f0 below band",
			in:   withDefaults(func(p *sonify.Params) { p.F0 = 5 }),
			want: func(p sonify.Params) bool { return p.F0 == 20 },
			desc: "F0 clamped to 20",
		},
		{
			name: "f0 above band",
			in:   withDefaults(func(p *sonify.Params) { p.F0 = 50000 }),
			want: func(p sonify.Params) bool { return p.F0 == 20000 },
			desc: "F0 clamped to 20000",
		},
		{
			name: "volume above one",
			in:   withDefaults(func(p *sonify.Params) { p.Volume = 2 }),
			want: func(p sonify.Params) bool { return p.Volume == 1 },
			desc: "Volume clamped to 1",
		},
		{
			name: "negative volume",
			in:   withDefaults(func(p *sonify.Params) { p.Volume = -1 }),
			want: func(p sonify.Params) bool { return p.Volume == 0 },
			desc: "Volume clamped to 0",
		},
		{
			name: "reverb above max",
			in:   withDefaults(func(p *sonify.Params) { p.Reverb = 1 }),
			want: func(p sonify.Params) bool { return p.Reverb == 0.95 },
			desc: "Reverb clamped to 0.95",
		},
		{
			name: "nan f0",
			in:   withDefaults(func(p *sonify.Params) { p.F0 = math.NaN() }),
			want: func(p sonify.Params) bool { return p.F0 == sonify.DefaultF0 },
			desc: "NaN F0 falls back to default",
		},
		{
			name: "inf alpha",
			in:   withDefaults(func(p *sonify.Params) { p.Alpha = math.Inf(1) }),
			want: func(p sonify.Params) bool { return p.Alpha == sonify.DefaultAlpha },
			desc: "Inf Alpha falls back to default",
		},
		{
			name: "zero strides",
			in:   withDefaults(func(p *sonify.Params) { p.RowStep, p.ColStep = 0, -3 }),
			want: func(p sonify.Params) bool { return p.RowStep == 1 && p.ColStep == 1 },
			desc: "strides clamped to 1",
		},
		{
			name: "negative depth scale",
			in:   withDefaults(func(p *sonify.Params) { p.DepthScale = -2 }),
			want: func(p sonify.Params) bool { return p.DepthScale == sonify.DefaultDepthScale },
			desc: "non-positive DepthScale falls back to default",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.Normalize()
			if !tc.want(got) {
				t.Errorf("%s; got %+v", tc.desc, got)
			}
		})
	}
}

func TestNormalize_DefaultsAreFixpoint(t *testing.T) {
	p := sonify.DefaultParams()
	if got := p.Normalize(); got != p {
		t.Errorf("Normalize changed default params: %+v", got)
	}
}

func withDefaults(mutate func(*sonify.Params)) sonify.Params {
	p := sonify.DefaultParams()
	mutate(&p)
	return p
}
