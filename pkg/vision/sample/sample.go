// Package sample selects a strided grid of points from a frame and its depth
// map, pairing each visited pixel with its intensity, depth, and normalized
// horizontal angle.
package sample

import (
	"github.com/echolens/sonavision/pkg/vision"
	"github.com/echolens/sonavision/pkg/vision/depth"
)

// Point is one sampled pixel. Theta is the normalized horizontal angle of the
// pixel's column from the image's vertical center line: -1 at the leftmost
// column, 0 at the horizontal midpoint, +1 at the rightmost column, strictly
// monotonic in Col.
type Point struct {
	Row       int
	Col       int
	Intensity float64
	Depth     float64
	Theta     float64
}

// Theta returns the normalized horizontal angle for column col in an image
// width columns wide. A single-column image maps to 0.
func Theta(col, width int) float64 {
	if width <= 1 {
		return 0
	}
	return float64(2*col-(width-1)) / float64(width-1)
}

// Grid walks the frame at the given strides and returns one point per visited
// (row, col) in row-major order: top-to-bottom, then left-to-right. The
// ordering carries no downstream meaning but is stable so fixtures can assert
// on it. Strides below 1 are clamped to 1.
func Grid(f vision.Frame, m depth.Map, rowStep, colStep int) []Point {
	if f.Empty() {
		return nil
	}
	if rowStep < 1 {
		rowStep = 1
	}
	if colStep < 1 {
		colStep = 1
	}

	rows := (f.Height + rowStep - 1) / rowStep
	cols := (f.Width + colStep - 1) / colStep
	points := make([]Point, 0, rows*cols)

	for row := 0; row < f.Height; row += rowStep {
		for col := 0; col < f.Width; col += colStep {
			p := Point{
				Row:       row,
				Col:       col,
				Intensity: f.At(row, col),
				Theta:     Theta(col, f.Width),
			}
			if m.Width == f.Width && m.Height == f.Height {
				p.Depth = m.At(row, col)
			}
			points = append(points, p)
		}
	}
	return points
}
