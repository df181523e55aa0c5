package vision

import (
	"context"
	"fmt"
)

// Rect is a region of interest in pixel coordinates, anchored at the
// top-left corner (X, Y).
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Zero reports whether the rect selects nothing.
func (r Rect) Zero() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Crop returns the portion of the frame inside r, clipped to the frame
// bounds. Seq and Timestamp carry over. An intersection with no area yields
// an empty Frame.
func (f Frame) Crop(r Rect) Frame {
	x0, y0 := r.X, r.Y
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	x1, y1 := r.X+r.Width, r.Y+r.Height
	if x1 > f.Width {
		x1 = f.Width
	}
	if y1 > f.Height {
		y1 = f.Height
	}
	if x1 <= x0 || y1 <= y0 {
		return Frame{Seq: f.Seq, Timestamp: f.Timestamp}
	}

	w, h := x1-x0, y1-y0
	out := Frame{
		Width:     w,
		Height:    h,
		Pix:       make([]float64, w*h),
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
	}
	for y := 0; y < h; y++ {
		copy(out.Pix[y*w:(y+1)*w], f.Pix[(y0+y)*f.Width+x0:])
	}
	return out
}

// Compile-time assertion that CropSource satisfies Source.
var _ Source = (*CropSource)(nil)

// CropSource restricts another source to a region of interest, so only part
// of the scene drives the sonification. The region is clipped against each
// frame; a region entirely outside the frame yields [ErrNoFrame].
type CropSource struct {
	src Source
	roi Rect
}

// NewCropSource wraps src with a region of interest.
func NewCropSource(src Source, roi Rect) (*CropSource, error) {
	if src == nil {
		return nil, fmt.Errorf("vision: crop: source is required")
	}
	if roi.Zero() {
		return nil, fmt.Errorf("vision: crop: region %dx%d has no area", roi.Width, roi.Height)
	}
	return &CropSource{src: src, roi: roi}, nil
}

// Next pulls a frame from the wrapped source and crops it.
func (c *CropSource) Next(ctx context.Context) (Frame, error) {
	f, err := c.src.Next(ctx)
	if err != nil {
		return Frame{}, err
	}
	cropped := f.Crop(c.roi)
	if cropped.Empty() {
		return Frame{}, fmt.Errorf("vision: crop: region outside %dx%d frame: %w",
			f.Width, f.Height, ErrNoFrame)
	}
	return cropped, nil
}

// Close closes the wrapped source.
func (c *CropSource) Close() error { return c.src.Close() }
