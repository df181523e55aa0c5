// Package pipeline runs the two cadences of the demo: the vision loop
// (capture → depth → sample → tone mapping) and the audio loop (render →
// sink). The loops are joined only by a [Slot] — a single-element
// most-recent-wins handoff — and a [ParamStore], so neither can block the
// other. The audio loop re-renders the last tone set when vision falls
// behind, and vision keeps processing when the audio device dies.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/echolens/sonavision/internal/observe"
	"github.com/echolens/sonavision/pkg/audio"
	"github.com/echolens/sonavision/pkg/sonify"
	"github.com/echolens/sonavision/pkg/sonify/synth"
	"github.com/echolens/sonavision/pkg/vision"
	"github.com/echolens/sonavision/pkg/vision/depth"
	"github.com/echolens/sonavision/pkg/vision/sample"
)

// Snapshot is the per-frame output handed to the visualization boundary: the
// raw frame, its depth map, the sampled points, and timing stats. The
// pipeline does no rendering itself.
type Snapshot struct {
	Frame   vision.Frame
	Depth   depth.Map
	Points  []sample.Point
	Tones   int
	Seq     uint64
	Elapsed time.Duration
}

// Config assembles a Pipeline.
type Config struct {
	Source vision.Source
	Sink   audio.Sink
	Synth  *synth.Synth
	Params *ParamStore

	// FrameInterval is the vision loop tick. Default 33 ms.
	FrameInterval time.Duration

	// OnFrame, when set, receives one Snapshot per processed frame.
	OnFrame func(Snapshot)

	// OnAudio, when set, receives every rendered buffer (the monitor tap).
	OnAudio func(audio.Buffer)

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Pipeline owns the two loops. Create with New, drive with Run.
type Pipeline struct {
	src      vision.Source
	sink     audio.Sink
	synth    *synth.Synth
	params   *ParamStore
	mapper   sonify.Mapper
	slot     Slot
	interval time.Duration
	onFrame  func(Snapshot)
	onAudio  func(audio.Buffer)
	metrics  *observe.Metrics

	sourceErr atomic.Pointer[error]
	sinkErr   atomic.Pointer[error]

	frameSeq atomic.Uint64
}

// New validates cfg and creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, errors.New("pipeline: source is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("pipeline: sink is required")
	}
	if cfg.Synth == nil {
		return nil, errors.New("pipeline: synth is required")
	}
	if cfg.Params == nil {
		cfg.Params = NewParamStore(sonify.DefaultParams())
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 33 * time.Millisecond
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	return &Pipeline{
		src:      cfg.Source,
		sink:     cfg.Sink,
		synth:    cfg.Synth,
		params:   cfg.Params,
		interval: cfg.FrameInterval,
		onFrame:  cfg.OnFrame,
		onAudio:  cfg.OnAudio,
		metrics:  cfg.Metrics,
	}, nil
}

// Params returns the pipeline's parameter store.
func (p *Pipeline) Params() *ParamStore { return p.params }

// ToneSlot returns the handoff slot, exposed for stats reporting.
func (p *Pipeline) ToneSlot() *Slot { return &p.slot }

// SourceHealthy returns nil while the frame source delivers, or the last
// source error.
func (p *Pipeline) SourceHealthy() error { return loadErr(&p.sourceErr) }

// SinkHealthy returns nil while the audio sink accepts buffers, or the last
// sink error.
func (p *Pipeline) SinkHealthy() error { return loadErr(&p.sinkErr) }

// Run drives both loops until ctx is cancelled. A dead audio sink stops only
// the audio loop; a dead frame source leaves the audio loop fading to
// silence. Run returns the first non-cancellation error, or ctx.Err().
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.visionLoop(ctx) })
	g.Go(func() error { return p.audioLoop(ctx) })
	return g.Wait()
}

// ─── Vision cadence ──────────────────────────────────────────────────────────

func (p *Pipeline) visionLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last vision.Frame
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, err := p.src.Next(ctx)
		switch {
		case err == nil:
			storeErr(&p.sourceErr, nil)
			last = frame
		case errors.Is(err, vision.ErrNoFrame):
			// Reuse the previous frame; nothing new to say if we have none.
			if last.Empty() {
				continue
			}
			frame = last
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()
		default:
			// Source gone or stream ended: audio degrades to silence on its
			// own, vision just keeps polling.
			storeErr(&p.sourceErr, err)
			slog.Warn("frame source failed", "err", err)
			continue
		}

		p.processFrame(ctx, frame)
	}
}

// processFrame runs one pass of the mapping chain under a single parameter
// snapshot and publishes the result.
func (p *Pipeline) processFrame(ctx context.Context, frame vision.Frame) {
	ctx, span := observe.StartSpan(ctx, "pipeline.frame")
	defer span.End()

	start := time.Now()
	par := p.params.Load()

	dm := depth.Estimate(frame, par.BlurRadius, par.DepthScale)
	points := sample.Grid(frame, dm, par.RowStep, par.ColStep)
	seq := p.frameSeq.Add(1)
	set := p.mapper.MapAll(points, par, seq)
	p.slot.Publish(set)

	elapsed := time.Since(start)
	p.metrics.RecordFrame(ctx, elapsed.Seconds(), len(points))

	if p.onFrame != nil {
		p.onFrame(Snapshot{
			Frame:   frame,
			Depth:   dm,
			Points:  points,
			Tones:   len(set.Tones),
			Seq:     seq,
			Elapsed: elapsed,
		})
	}
}

// ─── Audio cadence ───────────────────────────────────────────────────────────

// underrunReporter is implemented by sinks that count device reads served
// with zeros (the oto device sink does).
type underrunReporter interface {
	Underruns() uint64
}

func (p *Pipeline) audioLoop(ctx context.Context) error {
	blockDur := time.Duration(float64(time.Second) *
		float64(p.synth.BlockSize()) / float64(p.synth.SampleRate()))
	ticker := time.NewTicker(blockDur)
	defer ticker.Stop()

	reporter, _ := p.sink.(underrunReporter)

	var lastDropped, lastStale, lastUnderruns uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		par := p.params.Load()
		set, fresh := p.slot.Latest()

		start := time.Now()
		buf := p.synth.Render(set, par)
		p.metrics.RecordBlock(ctx, time.Since(start).Seconds(), fresh)

		if d := p.slot.Dropped(); d > lastDropped {
			p.metrics.ToneSetsDropped.Add(ctx, int64(d-lastDropped))
			lastDropped = d
		}
		if s := p.slot.Stale(); s > lastStale {
			p.metrics.ToneSetsStale.Add(ctx, int64(s-lastStale))
			lastStale = s
		}
		if reporter != nil {
			if u := reporter.Underruns(); u > lastUnderruns {
				p.metrics.Underruns.Add(ctx, int64(u-lastUnderruns))
				lastUnderruns = u
			}
		}

		if p.onAudio != nil {
			p.onAudio(buf)
		}

		if err := p.sink.Write(ctx, buf); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			storeErr(&p.sinkErr, err)
			if errors.Is(err, audio.ErrSinkUnavailable) {
				// Vision and visualization continue without audio.
				slog.Error("audio sink unavailable, stopping audio loop", "err", err)
				return nil
			}
			slog.Warn("audio sink write failed", "err", err)
			continue
		}
		storeErr(&p.sinkErr, nil)
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func storeErr(slot *atomic.Pointer[error], err error) {
	if err == nil {
		slot.Store(nil)
		return
	}
	wrapped := fmt.Errorf("pipeline: %w", err)
	slot.Store(&wrapped)
}

func loadErr(slot *atomic.Pointer[error]) error {
	if e := slot.Load(); e != nil {
		return *e
	}
	return nil
}
