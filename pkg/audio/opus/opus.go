// Package opus encodes rendered audio blocks into Opus packets for the
// browser monitor stream.
//
// Opus accepts a fixed set of sample rates, so the encoder resamples the
// session audio to 48 kHz and slices it into 20 ms frames regardless of the
// synthesizer's block size. Partial frames carry over to the next call.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/echolens/sonavision/pkg/audio"
)

// The monitor stream is always 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960

	maxPacketBytes = 4000
)

// Encoder converts audio buffers into Opus packets. Not safe for concurrent
// use; the encoder carries codec state between calls.
type Encoder struct {
	enc     *gopus.Encoder
	pending []int16 // interleaved 48 kHz stereo awaiting a full frame
}

// NewEncoder creates a monitor-stream encoder.
func NewEncoder() (*Encoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// Encode resamples buf to 48 kHz and returns zero or more complete Opus
// packets. Samples that do not yet fill a 20 ms frame are buffered for the
// next call.
func (e *Encoder) Encode(buf audio.Buffer) ([][]byte, error) {
	samples := audio.ResampleStereo(buf.Data, buf.SampleRate, opusSampleRate)
	e.pending = append(e.pending, audio.Float32sToInt16s(samples)...)

	var packets [][]byte
	frameLen := opusFrameSize * opusChannels
	for len(e.pending) >= frameLen {
		pkt, err := e.enc.Encode(e.pending[:frameLen], opusFrameSize, maxPacketBytes)
		if err != nil {
			return nil, fmt.Errorf("opus: encode frame: %w", err)
		}
		packets = append(packets, pkt)
		e.pending = e.pending[frameLen:]
	}
	return packets, nil
}
