// Package audio defines the stereo buffer model and the output sink contract
// shared by the synthesizer and the playback targets.
//
// A [Buffer] is one fixed-size block of interleaved stereo float32 samples at
// a fixed session sample rate. The synthesizer owns a buffer while filling
// it; once handed to a [Sink] it is immutable and consumed. Sink
// implementations live in the subpackages: otosink (playback device), wavsink
// (RIFF/WAVE file), opus (monitor-stream encoder), mock (tests).
package audio

import (
	"context"
	"errors"
	"io"
)

// ErrSinkUnavailable indicates the output device or file cannot accept
// buffers. Vision processing and visualization continue when the sink dies;
// only the audio path stops.
var ErrSinkUnavailable = errors.New("audio: sink unavailable")

// Buffer is a fixed-length block of interleaved stereo samples
// (L0 R0 L1 R1 …) in [-1, 1] at SampleRate Hz.
type Buffer struct {
	Data       []float32
	SampleRate int
}

// Frames returns the number of stereo frames in the buffer.
func (b Buffer) Frames() int { return len(b.Data) / 2 }

// Duration returns the playback time of the buffer in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Silent reports whether every sample in the buffer is exactly zero.
func (b Buffer) Silent() bool {
	for _, s := range b.Data {
		if s != 0 {
			return false
		}
	}
	return true
}

// Sink accepts successive buffers for playback or storage. Write must accept
// buffers at least as fast as real time; implementations that fall behind
// must drop rather than block the producer indefinitely. Write returns an
// error wrapping [ErrSinkUnavailable] once the underlying device or file is
// gone.
type Sink interface {
	Write(ctx context.Context, buf Buffer) error
	io.Closer
}

// Discard is a Sink that accepts and drops every buffer. Used when the demo
// runs visualization-only.
var Discard Sink = discard{}

type discard struct{}

func (discard) Write(context.Context, Buffer) error { return nil }
func (discard) Close() error                        { return nil }
