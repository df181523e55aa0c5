package audio

import "math"

// Float32sToBytes packs float32 samples into little-endian IEEE 754 bytes,
// the wire format the oto device consumes (FormatFloat32LE).
func Float32sToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		bits := math.Float32bits(s)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

// BytesToFloat32s unpacks little-endian IEEE 754 bytes into float32 samples.
// Trailing bytes that do not form a full sample are ignored.
func BytesToFloat32s(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// Float32sToInt16s converts [-1, 1] float samples to int16 PCM, clamping
// anything outside the range.
func Float32sToInt16s(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// Int16sToBytes packs int16 PCM samples into little-endian bytes.
func Int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToInt16s unpacks little-endian bytes into int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}

// ResampleStereo resamples interleaved stereo float32 samples from srcRate to
// dstRate using linear interpolation. If the rates match, the input is
// returned unchanged. Used by the opus monitor encoder, which needs 48 kHz
// regardless of the session sample rate.
func ResampleStereo(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	srcFrames := len(samples) / 2
	if srcFrames < 2 {
		return samples
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstFrames; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		l0 := samples[srcIdx*2]
		r0 := samples[srcIdx*2+1]
		l1, r1 := l0, r0
		if srcIdx+1 < srcFrames {
			l1 = samples[(srcIdx+1)*2]
			r1 = samples[(srcIdx+1)*2+1]
		}

		out[i*2] = l0*(1-frac) + l1*frac
		out[i*2+1] = r0*(1-frac) + r1*frac
	}
	return out
}
