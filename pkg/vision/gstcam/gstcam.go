// Package gstcam captures live camera frames through GStreamer
// (github.com/tinyzimmer/go-gst).
//
// The pipeline is v4l2src → videoconvert → videoscale → capsfilter (GRAY8 at
// the requested size and rate) → appsink. The appsink is configured with
// max-buffers=1 and drop=true so the camera can never back up behind a slow
// consumer: only the latest frame is ever held, older ones are dropped inside
// GStreamer before they cost any copy.
package gstcam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/echolens/sonavision/pkg/vision"
)

// waitBudget is how long Next blocks for a frame before reporting
// vision.ErrNoFrame. Short enough that the vision loop never stalls behind a
// wedged camera.
const waitBudget = 100 * time.Millisecond

var gstInitOnce sync.Once

// Config selects the capture device and format.
type Config struct {
	// Device is the V4L2 device path, e.g. "/dev/video0".
	Device string

	// Width and Height select the capture resolution.
	Width  int
	Height int

	// FPS is the target capture rate.
	FPS float64
}

// Compile-time assertion that Source satisfies vision.Source.
var _ vision.Source = (*Source)(nil)

// Source is a vision.Source backed by a live GStreamer capture pipeline.
type Source struct {
	pipeline *gst.Pipeline
	width    int
	height   int

	frames chan vision.Frame

	seq     atomic.Uint64
	dropped atomic.Uint64

	closeOnce sync.Once
}

// New builds and starts the capture pipeline. Construction fails with
// vision.ErrSourceUnavailable when the device or any pipeline element cannot
// be created.
func New(cfg Config) (*Source, error) {
	if cfg.Device == "" {
		cfg.Device = "/dev/video0"
	}
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 480
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}

	gstInitOnce.Do(func() { gst.Init(nil) })

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, unavailable("create pipeline", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, unavailable("create v4l2src", err)
	}
	src.SetProperty("device", cfg.Device)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, unavailable("create videoconvert", err)
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, unavailable("create videoscale", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, unavailable("create capsfilter", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=GRAY8,width=%d,height=%d,framerate=%d/1",
		cfg.Width, cfg.Height, int(cfg.FPS))
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, unavailable("create appsink", err)
	}
	appsink.SetProperty("sync", false)    // real time, no clock sync
	appsink.SetProperty("max-buffers", 1) // keep only the latest frame
	appsink.SetProperty("drop", true)

	s := &Source{
		pipeline: pipeline,
		width:    cfg.Width,
		height:   cfg.Height,
		frames:   make(chan vision.Frame, 1),
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	pipeline.AddMany(src, converter, scaler, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(src, converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, unavailable("link elements", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, unavailable("start pipeline", err)
	}

	slog.Info("camera capture started",
		"device", cfg.Device,
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.FPS,
	)
	return s, nil
}

// onNewSample pulls the latest sample from the appsink, copies the GRAY8
// payload, and hands it to Next. A corrupt sample skips the frame instead of
// killing the stream.
func (s *Source) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstcam: failed to pull sample, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstcam: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) < s.width*s.height {
		buffer.Unmap()
		slog.Warn("gstcam: short buffer", "bytes", len(data))
		return gst.FlowOK
	}

	// Copy before unmap; GStreamer reuses the buffer.
	pix := make([]byte, s.width*s.height)
	copy(pix, data)
	buffer.Unmap()

	frame := vision.FromGray(pix, s.width, s.height)
	frame.Seq = s.seq.Add(1)
	frame.Timestamp = time.Now()

	// Most-recent-wins: displace any frame Next has not collected yet.
	for {
		select {
		case s.frames <- frame:
			return gst.FlowOK
		default:
		}
		select {
		case <-s.frames:
			s.dropped.Add(1)
		default:
		}
	}
}

// Next returns the most recent captured frame, waiting at most a short
// budget. It reports vision.ErrNoFrame on timeout so the caller can reuse
// its previous frame.
func (s *Source) Next(ctx context.Context) (vision.Frame, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-ctx.Done():
		return vision.Frame{}, ctx.Err()
	case <-time.After(waitBudget):
		return vision.Frame{}, vision.ErrNoFrame
	}
}

// Dropped returns the number of captured frames displaced before collection.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

// Close stops the capture pipeline.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if e := s.pipeline.SetState(gst.StateNull); e != nil {
			err = fmt.Errorf("gstcam: stop pipeline: %w", e)
		}
	})
	return err
}

func unavailable(action string, err error) error {
	return fmt.Errorf("gstcam: %s: %w: %v", action, vision.ErrSourceUnavailable, err)
}
