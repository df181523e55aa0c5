package vision

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Pattern names a generated test image.
type Pattern string

const (
	// PatternUniform is a flat mid-gray frame with no edges.
	PatternUniform Pattern = "uniform"

	// PatternDiagonal is a black frame with a single bright diagonal line.
	PatternDiagonal Pattern = "diagonal"

	// PatternBar is a bright vertical bar that advances one column per frame,
	// wrapping at the right edge.
	PatternBar Pattern = "bar"
)

// IsValid reports whether p is a recognised pattern name.
func (p Pattern) IsValid() bool {
	switch p {
	case PatternUniform, PatternDiagonal, PatternBar:
		return true
	}
	return false
}

// Compile-time assertion that SyntheticSource satisfies Source.
var _ Source = (*SyntheticSource)(nil)

// SyntheticSource generates deterministic frames without any capture
// hardware. The same pattern, dimensions, and sequence number always produce
// identical pixel data, which makes it the fixture source for pipeline tests
// and the fallback for no-camera demos.
type SyntheticSource struct {
	pattern Pattern
	width   int
	height  int

	mu  sync.Mutex
	seq uint64
}

// NewSyntheticSource creates a generator for the given pattern. Dimensions
// below 1 are clamped to 1.
func NewSyntheticSource(pattern Pattern, width, height int) (*SyntheticSource, error) {
	if !pattern.IsValid() {
		return nil, fmt.Errorf("vision: unknown pattern %q", pattern)
	}
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return &SyntheticSource{pattern: pattern, width: width, height: height}, nil
}

// Next generates the next frame. It never blocks and never fails while ctx
// is live.
func (s *SyntheticSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	f := Frame{
		Width:     s.width,
		Height:    s.height,
		Pix:       make([]float64, s.width*s.height),
		Seq:       seq,
		Timestamp: time.Now(),
	}

	switch s.pattern {
	case PatternUniform:
		for i := range f.Pix {
			f.Pix[i] = 0.5
		}
	case PatternDiagonal:
		for y := 0; y < s.height; y++ {
			x := y * s.width / s.height
			f.Pix[y*s.width+x] = 1
		}
	case PatternBar:
		col := int(seq-1) % s.width
		for y := 0; y < s.height; y++ {
			f.Pix[y*s.width+col] = 1
		}
	}
	return f, nil
}

// Close releases the source. SyntheticSource holds no resources.
func (s *SyntheticSource) Close() error { return nil }
