package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/echolens/sonavision/pkg/vision"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unset sections inherit the defaults from [Default]. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Out-of-range mapping parameters are not errors — they are clamped when the
// snapshot is built — but structural problems (unknown kinds, missing paths)
// are reported here.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Source
	if !cfg.Source.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("source.kind %q is invalid; valid values: camera, image, synthetic", cfg.Source.Kind))
	}
	if cfg.Source.Kind == SourceImage && cfg.Source.Path == "" {
		errs = append(errs, errors.New("source.path is required when source.kind is image"))
	}
	if cfg.Source.Kind == SourceSynthetic && cfg.Source.Pattern != "" {
		if !vision.Pattern(cfg.Source.Pattern).IsValid() {
			errs = append(errs, fmt.Errorf("source.pattern %q is invalid; valid values: uniform, diagonal, bar", cfg.Source.Pattern))
		}
	}
	if cfg.Source.FPS < 0 {
		errs = append(errs, fmt.Errorf("source.fps %.2f must not be negative", cfg.Source.FPS))
	}
	if roi := cfg.Source.ROI; roi != (ROIConfig{}) {
		if roi.Width <= 0 || roi.Height <= 0 {
			errs = append(errs, fmt.Errorf("source.roi %dx%d must have positive width and height", roi.Width, roi.Height))
		}
		if roi.X < 0 || roi.Y < 0 {
			errs = append(errs, fmt.Errorf("source.roi origin (%d, %d) must not be negative", roi.X, roi.Y))
		}
	}

	// Sink
	if !cfg.Sink.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("sink.kind %q is invalid; valid values: device, wav, none", cfg.Sink.Kind))
	}
	if cfg.Sink.Kind == SinkWav && cfg.Sink.Path == "" {
		errs = append(errs, errors.New("sink.path is required when sink.kind is wav"))
	}

	// Audio format
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must not be negative", cfg.Audio.BlockSize))
	}

	// Advisory warnings for parameters that will be clamped.
	warnClamped(cfg.Params)

	return errors.Join(errs...)
}

// warnClamped logs a warning for parameter values outside their documented
// range. The values still load — the snapshot builder clamps them — but a
// typo'd config deserves a hint.
func warnClamped(p ParamsConfig) {
	if p.Volume < 0 || p.Volume > 1 {
		slog.Warn("params.volume outside [0, 1]; it will be clamped", "volume", p.Volume)
	}
	if p.Reverb < 0 || p.Reverb > 0.95 {
		slog.Warn("params.reverb outside [0, 0.95]; it will be clamped", "reverb", p.Reverb)
	}
	if p.RowStep < 0 || p.ColStep < 0 {
		slog.Warn("negative sampling stride; it will be clamped to 1",
			"row_step", p.RowStep,
			"col_step", p.ColStep,
		)
	}
	if p.F0 < 0 {
		slog.Warn("params.f0 is negative; it will be clamped into the audible band", "f0", p.F0)
	}
}
