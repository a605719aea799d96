// Package capture turns microphone input into fixed-size PCM16 frames.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/koscakluka/ema-live/core/audio"
)

const (
	// DefaultBlockSize is the number of 16 kHz samples in one outbound frame.
	DefaultBlockSize = 1024
	// levelGain scales the block RMS so that normal speech fills the meter.
	levelGain = 4.0
)

var ErrNoDevice = errors.New("capture: no input device configured")

// Device delivers mono float samples on its own callback thread.
type Device interface {
	StartCapture(ctx context.Context, onSamples func(samples []float32)) error
	StopCapture() error
	EncodingInfo() audio.EncodingInfo
}

type Option func(*Pipeline)

func WithBlockSize(size int) Option {
	return func(p *Pipeline) {
		if size > 0 {
			p.blockSize = size
		}
	}
}

// WithLevelCallback registers a consumer for the normalised input level. It
// runs on the device callback thread and should not block.
func WithLevelCallback(callback func(level float64)) Option {
	return func(p *Pipeline) { p.onLevel = callback }
}

type Pipeline struct {
	device    Device
	blockSize int
	onLevel   func(level float64)

	mu      sync.Mutex
	running bool
	onFrame func(pcm []byte)
	pending []float32

	level atomic.Uint64
}

func New(device Device, opts ...Option) *Pipeline {
	p := &Pipeline{device: device, blockSize: DefaultBlockSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins capturing. onFrame is called once per block with 16-bit
// little-endian PCM; the caller decides whether to transmit or drop it.
// Calling Start on a running pipeline replaces onFrame.
func (p *Pipeline) Start(ctx context.Context, onFrame func(pcm []byte)) error {
	if p.device == nil {
		return ErrNoDevice
	}

	p.mu.Lock()
	p.onFrame = onFrame
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.pending = p.pending[:0]
	p.mu.Unlock()

	if err := p.device.StartCapture(ctx, p.onSamples); err != nil {
		p.mu.Lock()
		p.running = false
		p.onFrame = nil
		p.mu.Unlock()
		return fmt.Errorf("failed to start capture: %w", err)
	}

	logger.Info("capture started", "block_size", p.blockSize)
	return nil
}

// Stop releases the input device. Safe to call repeatedly and on a pipeline
// that was never started.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.onFrame = nil
	p.pending = p.pending[:0]
	p.mu.Unlock()

	p.level.Store(0)
	if p.device == nil {
		return nil
	}
	if err := p.device.StopCapture(); err != nil {
		return fmt.Errorf("failed to stop capture: %w", err)
	}

	logger.Info("capture stopped")
	return nil
}

func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Level returns the most recent normalised input level in [0, 1].
func (p *Pipeline) Level() float64 {
	return math.Float64frombits(p.level.Load())
}

func (p *Pipeline) onSamples(samples []float32) {
	if rate := p.device.EncodingInfo().SampleRate; rate > 0 && rate != audio.DefaultSampleRate {
		samples = audio.Resample(samples, rate, audio.DefaultSampleRate)
	}

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.pending = append(p.pending, samples...)
	var blocks [][]float32
	for len(p.pending) >= p.blockSize {
		block := make([]float32, p.blockSize)
		copy(block, p.pending[:p.blockSize])
		blocks = append(blocks, block)
		p.pending = p.pending[p.blockSize:]
	}
	onFrame := p.onFrame
	p.mu.Unlock()

	for _, block := range blocks {
		p.processBlock(block, onFrame)
	}
}

func (p *Pipeline) processBlock(block []float32, onFrame func(pcm []byte)) {
	level := audio.Level(block, levelGain)
	p.level.Store(math.Float64bits(level))
	if p.onLevel != nil {
		p.onLevel(level)
	}

	if onFrame != nil {
		onFrame(audio.Float32ToPCM16(block))
	}
}
