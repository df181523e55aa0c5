// Package otosink plays audio buffers on the default output device via
// github.com/ebitengine/oto.
//
// The oto player pulls float32 little-endian bytes from an io.Reader on its
// own schedule. The sink bridges the pipeline's push model onto that pull
// model with a bounded pending-sample queue: Write enqueues, the device reads
// at its own pace, and an empty queue is served with zeros so the device
// never starves — an underrun becomes silence plus a counter increment, not a
// stall.
package otosink

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"

	"github.com/echolens/sonavision/pkg/audio"
)

// maxPendingBlocks bounds the queue in units of the largest block seen.
// Beyond this, Write drops the oldest samples: playback latency stays bounded
// even if the render loop briefly runs ahead of the device.
const maxPendingBlocks = 4

// Compile-time assertion that Sink satisfies audio.Sink.
var _ audio.Sink = (*Sink)(nil)

// Sink is an audio.Sink backed by an oto playback device.
type Sink struct {
	otoCtx *oto.Context
	player *oto.Player
	stream *pcmStream

	closeOnce sync.Once
}

// New opens the default output device at the given sample rate (stereo,
// float32). A missing or unopenable device is reported as
// audio.ErrSinkUnavailable. New blocks until the device is ready.
func New(sampleRate int) (*Sink, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, fmt.Errorf("otosink: open device: %w: %v", audio.ErrSinkUnavailable, err)
	}
	<-ready

	stream := &pcmStream{}
	player := otoCtx.NewPlayer(stream)
	player.Play()

	return &Sink{otoCtx: otoCtx, player: player, stream: stream}, nil
}

// Write enqueues buf for playback. It never blocks on the device; if the
// pending queue is full the oldest samples are dropped.
func (s *Sink) Write(ctx context.Context, buf audio.Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.stream.enqueue(buf.Data)
	return nil
}

// Underruns returns the number of device reads that were served zeros for
// lack of pending samples.
func (s *Sink) Underruns() uint64 { return s.stream.underruns.Load() }

// Close stops playback and releases the player. The oto context itself has
// no close API; it lives until process exit.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.player.Close()
	})
	return err
}

// pcmStream is the io.Reader handed to the oto player. Pending samples are
// float32; reads beyond the pending data are zero-filled.
type pcmStream struct {
	mu      sync.Mutex
	pending []float32
	pos     int

	underruns atomic.Uint64
}

func (p *pcmStream) enqueue(samples []float32) {
	if len(samples) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.compactLocked()
	p.pending = append(p.pending, samples...)

	if max := maxPendingBlocks * len(samples); len(p.pending) > max {
		drop := len(p.pending) - max
		p.pending = p.pending[drop:]
	}
}

// Read serves float32 LE bytes to the device. Whole samples only; an empty
// queue yields zeros (silence) rather than a short read, so the device clock
// keeps running through underruns.
func (p *pcmStream) Read(b []byte) (int, error) {
	n := len(b) - len(b)%4
	if n == 0 {
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	served := false
	for i := 0; i < n; i += 4 {
		var v float32
		if p.pos < len(p.pending) {
			v = p.pending[p.pos]
			p.pos++
			served = true
		}
		bits := math.Float32bits(v)
		b[i] = byte(bits)
		b[i+1] = byte(bits >> 8)
		b[i+2] = byte(bits >> 16)
		b[i+3] = byte(bits >> 24)
	}
	if !served {
		p.underruns.Add(1)
	}
	p.compactLocked()
	return n, nil
}

func (p *pcmStream) compactLocked() {
	if p.pos == 0 {
		return
	}
	if p.pos >= len(p.pending) {
		p.pending = p.pending[:0]
	} else {
		remaining := copy(p.pending, p.pending[p.pos:])
		p.pending = p.pending[:remaining]
	}
	p.pos = 0
}
