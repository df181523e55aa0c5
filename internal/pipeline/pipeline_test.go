package pipeline_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/echolens/sonavision/internal/pipeline"
	"github.com/echolens/sonavision/pkg/audio"
	"github.com/echolens/sonavision/pkg/audio/mock"
	"github.com/echolens/sonavision/pkg/sonify"
	"github.com/echolens/sonavision/pkg/sonify/synth"
	"github.com/echolens/sonavision/pkg/vision"
)

func newTestPipeline(t *testing.T, cfg pipeline.Config) *pipeline.Pipeline {
	t.Helper()
	if cfg.Source == nil {
		src, err := vision.NewSyntheticSource(vision.PatternBar, 64, 48)
		if err != nil {
			t.Fatalf("source: %v", err)
		}
		cfg.Source = src
	}
	if cfg.Sink == nil {
		cfg.Sink = &mock.Sink{}
	}
	if cfg.Synth == nil {
		cfg.Synth = synth.New(44100, 256)
	}
	if cfg.FrameInterval == 0 {
		cfg.FrameInterval = 2 * time.Millisecond
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_RequiresSourceSinkSynth(t *testing.T) {
	src, _ := vision.NewSyntheticSource(vision.PatternBar, 8, 8)

	cases := []struct {
		name string
		cfg  pipeline.Config
	}{
		{"no source", pipeline.Config{Sink: &mock.Sink{}, Synth: synth.New(0, 0)}},
		{"no sink", pipeline.Config{Source: src, Synth: synth.New(0, 0)}},
		{"no synth", pipeline.Config{Source: src, Sink: &mock.Sink{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := pipeline.New(tc.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestRun_ProducesFramesAndAudio(t *testing.T) {
	sink := &mock.Sink{}

	var mu sync.Mutex
	var snaps []pipeline.Snapshot
	p := newTestPipeline(t, pipeline.Config{
		Sink: sink,
		OnFrame: func(s pipeline.Snapshot) {
			mu.Lock()
			snaps = append(snaps, s)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v, want deadline exceeded", err)
	}

	mu.Lock()
	frames := len(snaps)
	mu.Unlock()
	if frames == 0 {
		t.Fatal("no frames processed")
	}
	if len(sink.Buffers()) == 0 {
		t.Fatal("no audio blocks written")
	}

	// Snapshots carry the full chain output with increasing seq.
	mu.Lock()
	defer mu.Unlock()
	var prev uint64
	for _, s := range snaps {
		if s.Seq <= prev {
			t.Fatalf("snapshot seq %d not increasing after %d", s.Seq, prev)
		}
		prev = s.Seq
		if s.Frame.Empty() {
			t.Fatal("snapshot has empty frame")
		}
		if len(s.Points) == 0 || s.Tones != len(s.Points) {
			t.Fatalf("snapshot points/tones mismatch: %d points, %d tones", len(s.Points), s.Tones)
		}
	}
}

func TestRun_SinkFailureStopsOnlyAudio(t *testing.T) {
	sink := &mock.Sink{FailAfter: 2}

	var mu sync.Mutex
	frames := 0
	p := newTestPipeline(t, pipeline.Config{
		Sink: sink,
		OnFrame: func(pipeline.Snapshot) {
			mu.Lock()
			frames++
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v, want deadline exceeded (sink death must not abort)", err)
	}

	// The sink saw exactly its allowed writes plus the failing one.
	if sink.Writes() != 3 {
		t.Errorf("sink writes = %d, want 3", sink.Writes())
	}
	if p.SinkHealthy() == nil {
		t.Error("SinkHealthy() = nil, want the recorded failure")
	}

	// Vision ran for the whole 300 ms window even though the sink died in the
	// first ~20 ms: the sink dies after 3 audio blocks of ~6 ms each, and at a
	// 2 ms tick the vision loop processes far more frames than that.
	mu.Lock()
	defer mu.Unlock()
	if frames < 20 {
		t.Errorf("vision processed %d frames, want it to keep running after sink failure", frames)
	}
}

func TestRun_SourceFailureFadesAudio(t *testing.T) {
	src := &failingSource{}
	sink := &mock.Sink{}
	p := newTestPipeline(t, pipeline.Config{Source: src, Sink: sink})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := p.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v, want deadline exceeded", err)
	}

	if p.SourceHealthy() == nil {
		t.Error("SourceHealthy() = nil, want the recorded failure")
	}

	// With no frames ever delivered the synth has nothing to fade from:
	// every block is silence.
	for i, buf := range sink.Buffers() {
		if !buf.Silent() {
			t.Fatalf("buffer %d not silent despite dead source", i)
		}
	}
}

// failingSource always reports the device as gone.
type failingSource struct{}

func (f *failingSource) Next(ctx context.Context) (vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return vision.Frame{}, err
	}
	return vision.Frame{}, vision.ErrSourceUnavailable
}

func (f *failingSource) Close() error { return nil }

func TestRun_ParamUpdateTakesEffect(t *testing.T) {
	store := pipeline.NewParamStore(sonify.DefaultParams())

	var mu sync.Mutex
	var lastTones int
	p := newTestPipeline(t, pipeline.Config{
		Params: store,
		OnFrame: func(s pipeline.Snapshot) {
			mu.Lock()
			lastTones = s.Tones
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Wait for the default stride (20×10 on 64×48) to produce its grid.
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lastTones == 3*7 // ceil(48/20) × ceil(64/10)
	})

	// Coarser strides shrink the grid on the next pass.
	coarse := sonify.DefaultParams()
	coarse.RowStep, coarse.ColStep = 48, 64
	store.Store(coarse)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lastTones == 1
	})

	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

// TestMappingChain_DiagonalEdge drives the full vision chain on a known frame
// and checks the loudest tone lands where the formula says it must.
func TestMappingChain_DiagonalEdge(t *testing.T) {
	var got pipeline.Snapshot
	var mu sync.Mutex
	haveSnap := false

	store := pipeline.NewParamStore(sonify.Params{
		F0:         440,
		Alpha:      500,
		Beta:       0, // isolate the depth term
		BlurRadius: 0,
		DepthScale: 1,
		Gamma:      1,
		Volume:     1,
		RowStep:    1,
		ColStep:    1,
	})

	src, err := vision.NewSyntheticSource(vision.PatternDiagonal, 16, 16)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	p := newTestPipeline(t, pipeline.Config{
		Source: src,
		Params: store,
		OnFrame: func(s pipeline.Snapshot) {
			mu.Lock()
			if !haveSnap {
				got, haveSnap = s, true
			}
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return haveSnap
	})
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()

	// The maximum-depth pixel normalizes to exactly depthScale, so some point
	// must map to f0 + alpha·depthScale = 940 Hz.
	if got.Depth.Max() != 1 {
		t.Fatalf("Depth.Max() = %v, want 1", got.Depth.Max())
	}
	var mapper sonify.Mapper
	par := store.Load()
	foundPeak := false
	for _, pt := range got.Points {
		tone := mapper.Tone(pt, par)
		if pt.Depth == 1 {
			if math.Abs(tone.Frequency-940) > 1e-9 {
				t.Errorf("peak-depth tone frequency = %v, want 940", tone.Frequency)
			}
			foundPeak = true
		}
	}
	if !foundPeak {
		t.Error("no point carried the maximum depth value")
	}
}

// TestMappingChain_UniformFrame checks that a featureless frame maps every
// point to the base frequency when the angle term is disabled.
func TestMappingChain_UniformFrame(t *testing.T) {
	store := pipeline.NewParamStore(sonify.Params{
		F0:         440,
		Alpha:      500,
		Beta:       0,
		BlurRadius: 0,
		DepthScale: 1,
		Gamma:      1,
		Volume:     1,
		RowStep:    1,
		ColStep:    1,
	})

	src, err := vision.NewSyntheticSource(vision.PatternUniform, 4, 4)
	if err != nil {
		t.Fatalf("source: %v", err)
	}

	var mu sync.Mutex
	var got pipeline.Snapshot
	haveSnap := false
	p := newTestPipeline(t, pipeline.Config{
		Source: src,
		Params: store,
		OnFrame: func(s pipeline.Snapshot) {
			mu.Lock()
			if !haveSnap {
				got, haveSnap = s, true
			}
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return haveSnap
	})
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()

	var mapper sonify.Mapper
	par := store.Load()
	for _, pt := range got.Points {
		tone := mapper.Tone(pt, par)
		if tone.Frequency != 440 {
			t.Fatalf("(%d,%d) frequency = %v, want 440 (flat frame, beta 0)",
				pt.Row, pt.Col, tone.Frequency)
		}
	}
}

func TestRun_AudioTapReceivesBuffers(t *testing.T) {
	var mu sync.Mutex
	taps := 0
	p := newTestPipeline(t, pipeline.Config{
		OnAudio: func(b audio.Buffer) {
			mu.Lock()
			taps++
			mu.Unlock()
			if b.SampleRate != 44100 {
				t.Errorf("tap SampleRate = %d, want 44100", b.SampleRate)
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if taps == 0 {
		t.Error("audio tap never fired")
	}
}
