package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/echolens/sonavision/internal/app"
	"github.com/echolens/sonavision/internal/config"
	"github.com/echolens/sonavision/pkg/audio/mock"
	"github.com/echolens/sonavision/pkg/vision"
)

// testConfig returns a hardware-free config on an ephemeral port with a small
// frame and block size, so a full app run stays cheap.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Source.Width = 64
	cfg.Source.Height = 48
	cfg.Source.FPS = 100
	cfg.Audio.BlockSize = 256
	return cfg
}

func TestNew_WiresSubsystemsFromDefaults(t *testing.T) {
	a, err := app.New(testConfig(), app.WithSink(&mock.Sink{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNew_RejectsUnknownSourceKind(t *testing.T) {
	cfg := testConfig()
	cfg.Source.Kind = "holodeck"
	if _, err := app.New(cfg); err == nil {
		t.Error("expected error for unknown source kind")
	}
}

func TestNew_RejectsUnknownSinkKind(t *testing.T) {
	cfg := testConfig()
	cfg.Sink.Kind = "phonograph"
	if _, err := app.New(cfg); err == nil {
		t.Error("expected error for unknown sink kind")
	}
}

func TestRun_StopsOnCancelAndWritesAudio(t *testing.T) {
	sink := &mock.Sink{}
	src, err := vision.NewSyntheticSource(vision.PatternBar, 64, 48)
	if err != nil {
		t.Fatalf("source: %v", err)
	}

	a, err := app.New(testConfig(), app.WithSource(src), app.WithSink(sink))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if len(sink.Buffers()) == 0 {
		t.Error("no audio blocks reached the sink")
	}
}

func TestShutdown_IsIdempotent(t *testing.T) {
	a, err := app.New(testConfig(), app.WithSink(&mock.Sink{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestWatchConfig_StartsAndStops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := app.New(testConfig(), app.WithSink(&mock.Sink{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.WatchConfig(path, config.WithInterval(10*time.Millisecond)); err != nil {
		t.Fatalf("WatchConfig: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestWatchConfig_MissingFile(t *testing.T) {
	a, err := app.New(testConfig(), app.WithSink(&mock.Sink{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if err := a.WatchConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
