// Package config provides the configuration schema, loader, and file watcher
// for the sonavision demo.
package config

import (
	"github.com/echolens/sonavision/pkg/sonify"
	"github.com/echolens/sonavision/pkg/vision"
)

// LogLevel controls log verbosity for the sonavision server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SourceKind selects the frame input implementation.
type SourceKind string

const (
	// SourceCamera captures live frames from a V4L2 device via GStreamer.
	SourceCamera SourceKind = "camera"

	// SourceImage re-serves a decoded still image at the frame rate.
	SourceImage SourceKind = "image"

	// SourceSynthetic generates deterministic test patterns.
	SourceSynthetic SourceKind = "synthetic"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceCamera, SourceImage, SourceSynthetic:
		return true
	}
	return false
}

// SinkKind selects the audio output implementation.
type SinkKind string

const (
	// SinkDevice plays through the default output device.
	SinkDevice SinkKind = "device"

	// SinkWav renders to a WAVE file.
	SinkWav SinkKind = "wav"

	// SinkNone discards audio; the demo runs visualization-only.
	SinkNone SinkKind = "none"
)

// IsValid reports whether k is a recognised sink kind.
func (k SinkKind) IsValid() bool {
	switch k {
	case SinkDevice, SinkWav, SinkNone:
		return true
	}
	return false
}

// Config is the root configuration structure for sonavision.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Source SourceConfig `yaml:"source"`
	Sink   SinkConfig   `yaml:"sink"`
	Audio  AudioConfig  `yaml:"audio"`
	Params ParamsConfig `yaml:"params"`
}

// ServerConfig holds network and logging settings for the visualization and
// control server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// SourceConfig selects and configures the frame input.
type SourceConfig struct {
	// Kind selects the implementation: camera, image, or synthetic.
	Kind SourceKind `yaml:"kind"`

	// Device is the V4L2 device path for kind=camera (e.g., "/dev/video0").
	Device string `yaml:"device"`

	// Path is the image file for kind=image.
	Path string `yaml:"path"`

	// Pattern names the generated image for kind=synthetic
	// (uniform, diagonal, bar).
	Pattern string `yaml:"pattern"`

	// Width and Height select the capture or generation resolution.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// FPS is the target frame rate for processing.
	FPS float64 `yaml:"fps"`

	// ROI restricts processing to a region of the captured frame. The zero
	// value disables cropping.
	ROI ROIConfig `yaml:"roi"`
}

// ROIConfig is a crop region in pixel coordinates, top-left anchored.
type ROIConfig struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Enabled reports whether the region selects anything.
func (r ROIConfig) Enabled() bool {
	return r.Width > 0 && r.Height > 0
}

// SinkConfig selects and configures the audio output.
type SinkConfig struct {
	// Kind selects the implementation: device, wav, or none.
	Kind SinkKind `yaml:"kind"`

	// Path is the output file for kind=wav.
	Path string `yaml:"path"`
}

// AudioConfig fixes the session audio format.
type AudioConfig struct {
	// SampleRate in Hz. Default 44100.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the render quantum in stereo frames. Default 1024.
	BlockSize int `yaml:"block_size"`
}

// ParamsConfig mirrors sonify.Params in YAML. Values are clamped into their
// valid ranges on load, never rejected.
type ParamsConfig struct {
	F0         float64 `yaml:"f0"`
	Alpha      float64 `yaml:"alpha"`
	Beta       float64 `yaml:"beta"`
	BlurRadius float64 `yaml:"blur_radius"`
	DepthScale float64 `yaml:"depth_scale"`
	Gamma      float64 `yaml:"gamma"`
	RowStep    int     `yaml:"row_step"`
	ColStep    int     `yaml:"col_step"`
	Volume     float64 `yaml:"volume"`
	Reverb     float64 `yaml:"reverb"`
}

// Default returns a configuration that runs without hardware: synthetic
// frames, no audio device, demo defaults for every parameter.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Source: SourceConfig{
			Kind:    SourceSynthetic,
			Pattern: string(vision.PatternBar),
			Width:   640,
			Height:  480,
			FPS:     30,
		},
		Sink: SinkConfig{
			Kind: SinkNone,
		},
		Audio: AudioConfig{
			SampleRate: 44100,
			BlockSize:  1024,
		},
		Params: fromParams(sonify.DefaultParams()),
	}
}

// ToParams converts the YAML parameter block to a normalized sonify.Params
// snapshot. Zero values fall back to the demo defaults so a sparse YAML block
// behaves sensibly.
func (p ParamsConfig) ToParams() sonify.Params {
	out := sonify.DefaultParams()
	if p.F0 != 0 {
		out.F0 = p.F0
	}
	if p.Alpha != 0 {
		out.Alpha = p.Alpha
	}
	if p.Beta != 0 {
		out.Beta = p.Beta
	}
	if p.BlurRadius != 0 {
		out.BlurRadius = p.BlurRadius
	}
	if p.DepthScale != 0 {
		out.DepthScale = p.DepthScale
	}
	if p.Gamma != 0 {
		out.Gamma = p.Gamma
	}
	if p.RowStep != 0 {
		out.RowStep = p.RowStep
	}
	if p.ColStep != 0 {
		out.ColStep = p.ColStep
	}
	if p.Volume != 0 {
		out.Volume = p.Volume
	}
	if p.Reverb != 0 {
		out.Reverb = p.Reverb
	}
	return out.Normalize()
}

// fromParams converts a sonify.Params back to its YAML mirror.
func fromParams(par sonify.Params) ParamsConfig {
	return ParamsConfig{
		F0:         par.F0,
		Alpha:      par.Alpha,
		Beta:       par.Beta,
		BlurRadius: par.BlurRadius,
		DepthScale: par.DepthScale,
		Gamma:      par.Gamma,
		RowStep:    par.RowStep,
		ColStep:    par.ColStep,
		Volume:     par.Volume,
		Reverb:     par.Reverb,
	}
}
