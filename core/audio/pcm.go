package audio

import (
	"encoding/binary"
	"math"
)

// Float32ToPCM16 encodes mono float samples as 16-bit signed little-endian
// PCM. Samples are clamped to [-1, 1] and scaled by 32767.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(FloatToInt16(sample)))
	}
	return out
}

// FloatToInt16 converts a single sample using round(clamp(x,-1,1) * 32767).
func FloatToInt16(sample float32) int16 {
	x := float64(sample)
	if math.IsNaN(x) {
		return 0
	}
	x = max(-1, min(1, x))
	return int16(math.Round(x * 32767))
}

// PCM16ToFloat32 decodes 16-bit signed little-endian PCM into floats in
// [-1, 1]. A trailing odd byte is ignored.
//
// Decoding divides by 32767 so that Float32ToPCM16 round-trips within
// half a quantisation step; -32768 is clamped to -1.
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = max(-1, float32(sample)/32767)
	}
	return out
}

// Level returns the RMS of samples multiplied by gain and clamped to [0, 1].
func Level(samples []float32, gain float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return max(0, min(1, rms*gain))
}

// Resample converts mono float samples from inRate to outRate using linear
// interpolation. For every output index i the source position is
// s = i / (outRate/inRate); the last valid input sample is repeated past the
// end of the input. Matching rates return the input unchanged.
func Resample(in []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || inRate == outRate || len(in) == 0 {
		return in
	}

	ratio := float64(outRate) / float64(inRate)
	outLen := int(math.Round(float64(len(in)) * ratio))
	out := make([]float32, outLen)
	last := len(in) - 1
	for i := range out {
		s := float64(i) / ratio
		lo := int(math.Floor(s))
		if lo >= last {
			out[i] = in[last]
			continue
		}
		hi := int(math.Ceil(s))
		if hi > last {
			hi = last
		}
		frac := float32(s - float64(lo))
		out[i] = in[lo] + frac*(in[hi]-in[lo])
	}
	return out
}
