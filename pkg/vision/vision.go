// Package vision defines the frame data model and the frame source contract
// for the sonavision pipeline.
//
// A [Frame] is an immutable grayscale intensity grid. Sources produce frames;
// the pipeline consumes one frame per pass and discards it. Implementations in
// this package cover still images ([StillSource]) and generated test patterns
// ([SyntheticSource]); live camera capture lives in the gstcam subpackage so
// that the GStreamer dependency stays out of headless builds' hot path.
package vision

import (
	"context"
	"errors"
	"image"
	"io"
	"time"
)

// ErrSourceUnavailable indicates the frame source cannot deliver frames at
// all (missing camera, unreadable file). Distinct from [ErrNoFrame]: a source
// returning this error is not expected to recover without intervention.
var ErrSourceUnavailable = errors.New("vision: source unavailable")

// ErrNoFrame indicates no new frame arrived within the source's wait budget.
// Callers should reuse their previous frame and try again later.
var ErrNoFrame = errors.New("vision: no new frame")

// Frame is a single grayscale image. Pix holds row-major intensities
// normalized to [0, 1]. A Frame is immutable once constructed.
type Frame struct {
	Width  int
	Height int
	Pix    []float64

	// Seq increases by one per frame produced by a source. Used by the
	// pipeline for staleness accounting.
	Seq uint64

	// Timestamp marks when the frame was captured or generated.
	Timestamp time.Time
}

// At returns the intensity at (row, col). No bounds check; callers iterate
// within Width×Height.
func (f Frame) At(row, col int) float64 {
	return f.Pix[row*f.Width+col]
}

// Empty reports whether the frame holds no pixel data.
func (f Frame) Empty() bool {
	return f.Width == 0 || f.Height == 0 || len(f.Pix) == 0
}

// Source produces successive frames. Next may block briefly while waiting for
// a frame but never indefinitely: when no frame arrives within the source's
// internal budget it returns [ErrNoFrame]. Next returns [io.EOF] when the
// stream is exhausted and [ErrSourceUnavailable] when the underlying device
// or file is gone.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	io.Closer
}

// FromImage converts a decoded image to a grayscale [Frame] using the
// Rec. 601 luma weights. The seq and timestamp fields are left for the
// caller to fill.
func FromImage(img image.Image) Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	f := Frame{Width: w, Height: h, Pix: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// RGBA returns 16-bit channels.
			luma := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)
			f.Pix[y*w+x] = luma / 65535
		}
	}
	return f
}

// FromGray builds a Frame from raw 8-bit grayscale bytes in row-major order.
// Returns an empty Frame if the byte count does not match width×height.
func FromGray(pix []byte, width, height int) Frame {
	if width <= 0 || height <= 0 || len(pix) != width*height {
		return Frame{}
	}
	f := Frame{Width: width, Height: height, Pix: make([]float64, width*height)}
	for i, p := range pix {
		f.Pix[i] = float64(p) / 255
	}
	return f
}
