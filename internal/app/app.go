// Package app wires all sonavision subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run drives the pipeline and the visualization server, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSource, WithSink).
// When an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/echolens/sonavision/internal/config"
	"github.com/echolens/sonavision/internal/health"
	"github.com/echolens/sonavision/internal/observe"
	"github.com/echolens/sonavision/internal/pipeline"
	"github.com/echolens/sonavision/internal/vizserver"
	"github.com/echolens/sonavision/pkg/audio"
	"github.com/echolens/sonavision/pkg/audio/otosink"
	"github.com/echolens/sonavision/pkg/audio/wavsink"
	"github.com/echolens/sonavision/pkg/sonify/synth"
	"github.com/echolens/sonavision/pkg/vision"
	"github.com/echolens/sonavision/pkg/vision/gstcam"
)

// App owns all subsystem lifetimes and orchestrates the vision → audio demo.
type App struct {
	cfg    *config.Config
	params *pipeline.ParamStore

	// Subsystems — initialised in New, torn down in Shutdown.
	src     vision.Source
	sink    audio.Sink
	pipe    *pipeline.Pipeline
	viz     *vizserver.Server
	httpSrv *http.Server
	watcher *config.Watcher

	// levelVar, when set, lets config reloads adjust log verbosity live.
	levelVar *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a frame source instead of creating one from config.
func WithSource(s vision.Source) Option {
	return func(a *App) { a.src = s }
}

// WithSink injects an audio sink instead of creating one from config.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithLogLevelVar hands the logger's level to the app so config reloads can
// adjust verbosity without a restart.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: frame source, audio
// sink, synthesizer, pipeline, and the visualization server. Use Option
// functions to inject test doubles for the hardware-facing pieces.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		params: pipeline.NewParamStore(cfg.Params.ToParams()),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Frame source ──────────────────────────────────────────────────
	if err := a.initSource(); err != nil {
		return nil, fmt.Errorf("app: init source: %w", err)
	}

	// ── 2. Audio sink ────────────────────────────────────────────────────
	if err := a.initSink(); err != nil {
		return nil, fmt.Errorf("app: init sink: %w", err)
	}

	// ── 3. Pipeline ──────────────────────────────────────────────────────
	sr := cfg.Audio.SampleRate
	bs := cfg.Audio.BlockSize
	pipe, err := pipeline.New(pipeline.Config{
		Source:        a.src,
		Sink:          a.sink,
		Synth:         synth.New(sr, bs),
		Params:        a.params,
		FrameInterval: frameInterval(cfg.Source.FPS),
		// a.viz is assigned below; the taps fire only once Run starts.
		OnFrame: func(s pipeline.Snapshot) { a.viz.PublishSnapshot(s) },
		OnAudio: func(b audio.Buffer) { a.viz.PublishAudio(b) },
	})
	if err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.pipe = pipe

	// ── 4. Visualization + control server ────────────────────────────────
	checks := health.New(
		health.Checker{
			Name:  "video-source",
			Check: func(context.Context) error { return pipe.SourceHealthy() },
		},
		health.Checker{
			Name:  "audio-sink",
			Check: func(context.Context) error { return pipe.SinkHealthy() },
		},
	)
	viz, err := vizserver.New(vizserver.Config{
		Params: a.params,
		Slot:   pipe.ToneSlot(),
		Health: checks,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init vizserver: %w", err)
	}
	a.viz = viz

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           viz.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSource creates the configured frame source if one wasn't injected.
func (a *App) initSource() error {
	if a.src != nil {
		return nil
	}

	src := a.cfg.Source
	switch src.Kind {
	case config.SourceCamera:
		cam, err := gstcam.New(gstcam.Config{
			Device: src.Device,
			Width:  src.Width,
			Height: src.Height,
			FPS:    src.FPS,
		})
		if err != nil {
			return err
		}
		a.src = cam

	case config.SourceImage:
		still, err := vision.NewStillSource(src.Path,
			vision.WithInterval(frameInterval(src.FPS)),
			vision.WithMaxWidth(src.Width),
		)
		if err != nil {
			return err
		}
		a.src = still

	case config.SourceSynthetic:
		pattern := vision.Pattern(src.Pattern)
		if pattern == "" {
			pattern = vision.PatternBar
		}
		syn, err := vision.NewSyntheticSource(pattern, src.Width, src.Height)
		if err != nil {
			return err
		}
		a.src = syn

	default:
		return fmt.Errorf("unknown source kind %q", src.Kind)
	}

	if src.ROI.Enabled() {
		cropped, err := vision.NewCropSource(a.src, vision.Rect{
			X:      src.ROI.X,
			Y:      src.ROI.Y,
			Width:  src.ROI.Width,
			Height: src.ROI.Height,
		})
		if err != nil {
			return err
		}
		a.src = cropped
	}

	a.closers = append(a.closers, a.src.Close)
	return nil
}

// initSink creates the configured audio sink if one wasn't injected.
func (a *App) initSink() error {
	if a.sink != nil {
		return nil
	}

	switch a.cfg.Sink.Kind {
	case config.SinkDevice:
		dev, err := otosink.New(a.cfg.Audio.SampleRate)
		if err != nil {
			return err
		}
		a.sink = dev

	case config.SinkWav:
		w, err := wavsink.New(a.cfg.Sink.Path, a.cfg.Audio.SampleRate)
		if err != nil {
			return err
		}
		a.sink = w

	case config.SinkNone:
		a.sink = audio.Discard

	default:
		return fmt.Errorf("unknown sink kind %q", a.cfg.Sink.Kind)
	}

	a.closers = append(a.closers, a.sink.Close)
	return nil
}

// ─── Config reload ───────────────────────────────────────────────────────────

// WatchConfig starts a file watcher on path. Parameter and log-level changes
// are applied live; anything else is logged as needing a restart.
func (a *App) WatchConfig(path string, opts ...config.WatcherOption) error {
	w, err := config.NewWatcher(path, a.applyReload, opts...)
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}
	a.watcher = w
	return nil
}

func (a *App) applyReload(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.ParamsChanged {
		a.params.Store(new.Params.ToParams())
		slog.Info("mapping parameters reloaded")
	}
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RestartNeeded {
		slog.Warn("config change requires a restart to take effect")
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the HTTP server and the pipeline, blocking until ctx is
// cancelled or either fails. The HTTP server is shut down gracefully when the
// pipeline stops.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("visualization server listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(shutCtx)
	})

	g.Go(func() error {
		return a.pipe.Run(ctx)
	})

	slog.Info("app running",
		"source", a.cfg.Source.Kind,
		"sink", a.cfg.Sink.Kind,
		"sample_rate", a.cfg.Audio.SampleRate,
	)

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// frameInterval converts a frames-per-second rate to a tick interval, with
// 30 fps as the fallback for unset rates.
func frameInterval(fps float64) time.Duration {
	if fps <= 0 {
		fps = 30
	}
	return time.Duration(float64(time.Second) / fps)
}

// slogLevel maps a config log level to its slog equivalent.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
