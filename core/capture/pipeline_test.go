package capture

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/koscakluka/ema-live/core/audio"
)

type fakeDevice struct {
	mu         sync.Mutex
	sampleRate int
	onSamples  func([]float32)
	starts     int
	stops      int
	startErr   error
}

func (d *fakeDevice) StartCapture(_ context.Context, onSamples func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.starts++
	d.onSamples = onSamples
	return nil
}

func (d *fakeDevice) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	d.onSamples = nil
	return nil
}

func (d *fakeDevice) EncodingInfo() audio.EncodingInfo {
	rate := d.sampleRate
	if rate == 0 {
		rate = audio.DefaultSampleRate
	}
	return audio.EncodingInfo{SampleRate: rate, Format: audio.EncodingFloat32, Channels: 1}
}

func (d *fakeDevice) emit(samples []float32) {
	d.mu.Lock()
	onSamples := d.onSamples
	d.mu.Unlock()
	if onSamples != nil {
		onSamples(samples)
	}
}

func TestPipelineEmitsFixedSizeBlocks(t *testing.T) {
	device := &fakeDevice{}
	p := New(device, WithBlockSize(4))

	var frames [][]byte
	if err := p.Start(context.Background(), func(pcm []byte) { frames = append(frames, pcm) }); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	device.emit([]float32{0, 0.5, -0.5})
	if len(frames) != 0 {
		t.Fatalf("expected no frame before a full block, got %d", len(frames))
	}

	device.emit([]float32{1, 0, 0, 0, 0, 0.25})
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	for i, frame := range frames {
		if len(frame) != 8 {
			t.Fatalf("frame %d: expected 8 bytes, got %d", i, len(frame))
		}
	}

	decoded := audio.PCM16ToFloat32(frames[0])
	if decoded[1] != 16384.0/32767 || decoded[3] != 1 {
		t.Fatalf("unexpected decoded first frame %v", decoded)
	}
}

func TestPipelineReportsLevel(t *testing.T) {
	device := &fakeDevice{}
	var levels []float64
	p := New(device, WithBlockSize(2), WithLevelCallback(func(level float64) { levels = append(levels, level) }))
	if err := p.Start(context.Background(), nil); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	device.emit([]float32{0.1, -0.1})
	if len(levels) != 1 {
		t.Fatalf("expected one level update, got %d", len(levels))
	}
	if got := p.Level(); got < 0.39 || got > 0.41 {
		t.Fatalf("expected level around 0.4, got %f", got)
	}

	device.emit([]float32{1, -1})
	if got := p.Level(); got != 1 {
		t.Fatalf("expected level clamped to 1, got %f", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	device := &fakeDevice{}
	p := New(device)

	if err := p.Stop(); err != nil {
		t.Fatalf("unexpected error stopping idle pipeline: %v", err)
	}
	if err := p.Start(context.Background(), func([]byte) {}); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	for range 3 {
		if err := p.Stop(); err != nil {
			t.Fatalf("unexpected stop error: %v", err)
		}
	}
	if device.stops != 1 {
		t.Fatalf("expected device to be stopped once, got %d", device.stops)
	}
	if p.IsRunning() {
		t.Fatalf("expected pipeline to be stopped")
	}
}

func TestSamplesAfterStopAreDropped(t *testing.T) {
	device := &fakeDevice{}
	p := New(device, WithBlockSize(1))
	frames := 0
	if err := p.Start(context.Background(), func([]byte) { frames++ }); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	onSamples := device.onSamples

	_ = p.Stop()
	onSamples([]float32{0.5})
	if frames != 0 {
		t.Fatalf("expected late samples to be dropped, got %d frames", frames)
	}
}

func TestStartFailureLeavesPipelineStopped(t *testing.T) {
	device := &fakeDevice{startErr: errors.New("no microphone")}
	p := New(device)

	if err := p.Start(context.Background(), func([]byte) {}); err == nil {
		t.Fatalf("expected start error")
	}
	if p.IsRunning() {
		t.Fatalf("expected pipeline to stay stopped after start failure")
	}
}

func TestPipelineWithoutDevice(t *testing.T) {
	p := New(nil)
	if err := p.Start(context.Background(), func([]byte) {}); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
}

func TestPipelineResamplesDeviceRate(t *testing.T) {
	device := &fakeDevice{sampleRate: 32000}
	p := New(device, WithBlockSize(2))
	frames := 0
	if err := p.Start(context.Background(), func([]byte) { frames++ }); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	device.emit([]float32{0, 0, 0, 0, 0, 0, 0, 0})
	if frames != 2 {
		t.Fatalf("expected 8 samples at 32kHz to become 2 blocks of 2 at 16kHz, got %d", frames)
	}
}
