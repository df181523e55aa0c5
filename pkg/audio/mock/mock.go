// Package mock provides an in-memory audio sink for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/echolens/sonavision/pkg/audio"
)

// Compile-time assertion that Sink satisfies audio.Sink.
var _ audio.Sink = (*Sink)(nil)

// Sink records every buffer written to it. Safe for concurrent use.
//
// Set FailAfter to a positive n to make the n+1-th Write (and all later ones)
// fail with audio.ErrSinkUnavailable, simulating a device that dies
// mid-session.
type Sink struct {
	FailAfter int

	mu      sync.Mutex
	buffers []audio.Buffer
	writes  int
	closed  bool
}

// Write records a copy of buf.
func (s *Sink) Write(ctx context.Context, buf audio.Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("mock: write after close: %w", audio.ErrSinkUnavailable)
	}
	s.writes++
	if s.FailAfter > 0 && s.writes > s.FailAfter {
		return fmt.Errorf("mock: simulated device failure: %w", audio.ErrSinkUnavailable)
	}

	cp := audio.Buffer{
		Data:       append([]float32(nil), buf.Data...),
		SampleRate: buf.SampleRate,
	}
	s.buffers = append(s.buffers, cp)
	return nil
}

// Close marks the sink closed; later writes fail.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Buffers returns a snapshot of all recorded buffers.
func (s *Sink) Buffers() []audio.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Buffer(nil), s.buffers...)
}

// Writes returns the number of Write calls, including failed ones.
func (s *Sink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
