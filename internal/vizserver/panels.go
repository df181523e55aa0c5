package vizserver

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/echolens/sonavision/internal/pipeline"
	"github.com/echolens/sonavision/pkg/vision"
	"github.com/echolens/sonavision/pkg/vision/depth"
	"github.com/echolens/sonavision/pkg/vision/sample"
)

// jpegQuality balances panel sharpness against websocket bandwidth at
// ~30 panels/s per client.
const jpegQuality = 70

// framePanel renders the raw grayscale frame.
func framePanel(f vision.Frame) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for i, v := range f.Pix {
		img.Pix[i] = clampByte(v * 255)
	}
	return encodeJPEG(img)
}

// depthPanel renders the depth map normalized to full contrast, so the panel
// stays readable regardless of the configured depth scale.
func depthPanel(m depth.Map) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	max := m.Max()
	if max > 0 {
		for i, v := range m.Depth {
			img.Pix[i] = clampByte(v / max * 255)
		}
	}
	return encodeJPEG(img)
}

// overlayPanel renders the frame with the sampled grid marked in red, one dot
// per tone.
func overlayPanel(f vision.Frame, points []sample.Point) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, v := range f.Pix {
		g := clampByte(v * 255)
		img.Pix[i*4] = g
		img.Pix[i*4+1] = g
		img.Pix[i*4+2] = g
		img.Pix[i*4+3] = 255
	}
	mark := color.RGBA{R: 255, A: 255}
	for _, p := range points {
		img.SetRGBA(p.Col, p.Row, mark)
	}
	return encodeJPEG(img)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("vizserver: encode panel: %w", err)
	}
	return buf.Bytes(), nil
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// statsPayload is the JSON body of a stats message.
type statsPayload struct {
	Seq       uint64  `json:"seq"`
	Tones     int     `json:"tones"`
	FrameMs   float64 `json:"frame_ms"`
	Dropped   uint64  `json:"dropped"`
	Stale     uint64  `json:"stale"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Clients   int     `json:"clients"`
	Timestamp int64   `json:"ts"`
}

func newStatsPayload(snap pipeline.Snapshot, slot *pipeline.Slot, clients int) statsPayload {
	p := statsPayload{
		Seq:       snap.Seq,
		Tones:     snap.Tones,
		FrameMs:   float64(snap.Elapsed.Microseconds()) / 1000,
		Width:     snap.Frame.Width,
		Height:    snap.Frame.Height,
		Clients:   clients,
		Timestamp: snap.Frame.Timestamp.UnixMilli(),
	}
	if slot != nil {
		p.Dropped = slot.Dropped()
		p.Stale = slot.Stale()
	}
	return p
}
