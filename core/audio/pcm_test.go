package audio

import (
	"math"
	"testing"
)

func TestPCM16RoundTripStaysWithinQuantisationError(t *testing.T) {
	samples := make([]float32, 0, 2001)
	for i := -1000; i <= 1000; i++ {
		samples = append(samples, float32(i)/1000)
	}
	samples = append(samples, 0.123456, -0.987654, 1e-6)

	decoded := PCM16ToFloat32(Float32ToPCM16(samples))
	if len(decoded) != len(samples) {
		t.Fatalf("expected %d decoded samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if diff := math.Abs(float64(decoded[i] - samples[i])); diff > 1.0/32768 {
			t.Fatalf("sample %d: expected %f, got %f (diff %g)", i, samples[i], decoded[i], diff)
		}
	}
}

func TestFloatToInt16ClampsOutOfRange(t *testing.T) {
	testCases := []struct {
		name     string
		in       float32
		expected int16
	}{
		{name: "positive full scale", in: 1, expected: 32767},
		{name: "negative full scale", in: -1, expected: -32767},
		{name: "above range", in: 3.5, expected: 32767},
		{name: "below range", in: -2, expected: -32767},
		{name: "half", in: 0.5, expected: 16384},
		{name: "nan", in: float32(math.NaN()), expected: 0},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := FloatToInt16(testCase.in); got != testCase.expected {
				t.Fatalf("expected %d, got %d", testCase.expected, got)
			}
		})
	}
}

func TestFloat32ToPCM16IsLittleEndian(t *testing.T) {
	pcm := Float32ToPCM16([]float32{1})
	if len(pcm) != 2 || pcm[0] != 0xFF || pcm[1] != 0x7F {
		t.Fatalf("expected [0xFF 0x7F], got %v", pcm)
	}
}

func TestPCM16ToFloat32IgnoresTrailingByte(t *testing.T) {
	if got := len(PCM16ToFloat32([]byte{0, 0, 1})); got != 1 {
		t.Fatalf("expected one sample, got %d", got)
	}
}

func TestLevelIsClamped(t *testing.T) {
	if got := Level(nil, 4); got != 0 {
		t.Fatalf("expected zero level for no samples, got %f", got)
	}
	if got := Level([]float32{1, -1, 1, -1}, 4); got != 1 {
		t.Fatalf("expected level clamped to 1, got %f", got)
	}
	if got := Level([]float32{0.1, -0.1}, 2); math.Abs(got-0.2) > 1e-6 {
		t.Fatalf("expected level 0.2, got %f", got)
	}
}

func TestResampleInterpolatesLinearly(t *testing.T) {
	out := Resample([]float32{0, 1}, 1, 2)
	expected := []float32{0, 0.5, 1, 1}
	if len(out) != len(expected) {
		t.Fatalf("expected %d samples, got %d", len(expected), len(out))
	}
	for i := range expected {
		if math.Abs(float64(out[i]-expected[i])) > 1e-6 {
			t.Fatalf("sample %d: expected %f, got %f", i, expected[i], out[i])
		}
	}
}

func TestResampleDownsamples(t *testing.T) {
	out := Resample([]float32{0, 1, 2, 3}, 4, 2)
	expected := []float32{0, 2}
	if len(out) != len(expected) {
		t.Fatalf("expected %d samples, got %d", len(expected), len(out))
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("sample %d: expected %f, got %f", i, expected[i], out[i])
		}
	}
}

func TestResampleKeepsMatchingRates(t *testing.T) {
	in := []float32{0.25, 0.5}
	out := Resample(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Fatalf("expected matching rates to return input unchanged")
	}
}
