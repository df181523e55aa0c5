package vision

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	// Extra decoders beyond the stdlib PNG/JPEG/GIF set.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	xdraw "golang.org/x/image/draw"
)

// Compile-time assertion that StillSource satisfies Source.
var _ Source = (*StillSource)(nil)

// StillSource serves a single decoded image file as a frame stream, re-issuing
// the same pixel data at the configured interval with a fresh sequence number
// each time. It stands in for a camera when demonstrating with static images.
type StillSource struct {
	frame    Frame
	interval time.Duration

	mu   sync.Mutex
	seq  uint64
	last time.Time
}

// StillOption configures a [StillSource].
type StillOption func(*stillConfig)

type stillConfig struct {
	interval time.Duration
	maxWidth int
}

// WithInterval sets the re-serve interval. The default is 33 ms (~30 fps).
func WithInterval(d time.Duration) StillOption {
	return func(c *stillConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithMaxWidth downscales the decoded image to at most w pixels wide,
// preserving aspect ratio. Zero disables scaling.
func WithMaxWidth(w int) StillOption {
	return func(c *stillConfig) { c.maxWidth = w }
}

// NewStillSource decodes the image at path. A missing or undecodable file is
// reported as [ErrSourceUnavailable].
func NewStillSource(path string, opts ...StillOption) (*StillSource, error) {
	cfg := stillConfig{interval: 33 * time.Millisecond}
	for _, opt := range opts {
		opt(&cfg)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vision: open image %q: %w: %v", path, ErrSourceUnavailable, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("vision: decode image %q: %w: %v", path, ErrSourceUnavailable, err)
	}

	if cfg.maxWidth > 0 && img.Bounds().Dx() > cfg.maxWidth {
		img = downscale(img, cfg.maxWidth)
	}

	return &StillSource{
		frame:    FromImage(img),
		interval: cfg.interval,
	}, nil
}

// Next returns the decoded image as a new frame. Delivery is paced at the
// configured interval: a call arriving before the next tick is due returns
// [ErrNoFrame] instead of sleeping, so the caller's loop keeps control of its
// own cadence.
func (s *StillSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if !s.last.IsZero() && now.Sub(s.last) < s.interval {
		return Frame{}, ErrNoFrame
	}
	s.last = now
	s.seq++

	out := s.frame
	out.Seq = s.seq
	out.Timestamp = now
	return out, nil
}

// Close releases the source. StillSource holds no resources after decode.
func (s *StillSource) Close() error { return nil }

// downscale resizes img to maxWidth preserving aspect ratio.
func downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}
