// Package wavsink writes audio buffers to a RIFF/WAVE file via
// github.com/go-audio/wav. Used for offline demo capture and regression
// fixtures; playback timing is the caller's concern.
package wavsink

import (
	"context"
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/echolens/sonavision/pkg/audio"
)

const bitDepth = 16

// Compile-time assertion that Sink satisfies audio.Sink.
var _ audio.Sink = (*Sink)(nil)

// Sink appends buffers to a 16-bit stereo WAVE file. Not safe for concurrent
// Write calls; one Sink belongs to one render loop.
type Sink struct {
	mu        sync.Mutex
	f         *os.File
	enc       *wav.Encoder
	closeOnce sync.Once
	closeErr  error
}

// New creates (or truncates) the file at path for the given sample rate.
func New(path string, sampleRate int) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wavsink: create %q: %w: %v", path, audio.ErrSinkUnavailable, err)
	}
	enc := wav.NewEncoder(f, sampleRate, bitDepth, 2, 1)
	return &Sink{f: f, enc: enc}, nil
}

// Write appends buf as int16 PCM.
func (s *Sink) Write(ctx context.Context, buf audio.Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enc == nil {
		return fmt.Errorf("wavsink: write after close: %w", audio.ErrSinkUnavailable)
	}

	ints := audio.Float32sToInt16s(buf.Data)
	data := make([]int, len(ints))
	for i, v := range ints {
		data[i] = int(v)
	}

	ib := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: buf.SampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := s.enc.Write(ib); err != nil {
		return fmt.Errorf("wavsink: write block: %w", err)
	}
	return nil
}

// Close finalizes the WAVE header and closes the file.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if err := s.enc.Close(); err != nil {
			s.closeErr = fmt.Errorf("wavsink: finalize: %w", err)
		}
		if err := s.f.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("wavsink: close file: %w", err)
		}
		s.enc = nil
	})
	return s.closeErr
}
