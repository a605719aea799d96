// Package playback turns inbound PCM chunks into a continuous stream of
// samples pulled by the platform output callback.
package playback

import (
	"fmt"
	"sync"

	"github.com/koscakluka/ema-live/core/audio"
)

// Source is pulled by the output device on its own callback thread.
type Source interface {
	// Pull fills out completely and reports how many samples came from
	// queued audio; the rest is silence.
	Pull(out []float32) int
}

// Sink is an output device that drives a [Source].
type Sink interface {
	Start(source Source) error
	Stop() error
}

// SinkFactory opens the output device. It is called lazily and retried on
// failure.
type SinkFactory func() (Sink, error)

type Option func(*Pipeline)

// WithSink sets the factory used to open the output device on first use.
// Without a sink the pipeline is only drained by explicit Pull calls.
func WithSink(factory SinkFactory) Option {
	return func(p *Pipeline) { p.newSink = factory }
}

// WithOutputSampleRate overrides the fixed output rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.outputRate = rate
		}
	}
}

// Pipeline is an ordered queue of sample chunks with a read cursor into the
// head chunk. Push and Clear are called from the session event loop, Pull
// from the output callback; the mutex serialises the two.
type Pipeline struct {
	outputRate int
	newSink    SinkFactory

	mu       sync.Mutex
	chunks   [][]float32
	cursor   int
	buffered int
	// streaming is set by the first push of a stream and reset by EndStream
	// or Clear.
	streaming bool

	sinkMu sync.Mutex
	sink   Sink
	closed bool
}

func New(opts ...Option) *Pipeline {
	p := &Pipeline{outputRate: audio.DefaultOutputSampleRate}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) OutputSampleRate() int { return p.outputRate }

// Push appends samples recorded at sampleRate to the tail of the queue,
// resampling them to the output rate first. A chunk is dropped with a warning
// when the output device cannot be opened.
func (p *Pipeline) Push(samples []float32, sampleRate int) {
	if len(samples) == 0 {
		return
	}

	if err := p.ensureSink(); err != nil {
		logger.Warn("dropping audio chunk, playback unavailable",
			"samples", len(samples),
			"sample_rate", sampleRate,
			"error", err,
		)
		return
	}

	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	var chunk []float32
	if sampleRate == p.outputRate {
		chunk = append([]float32(nil), samples...)
	} else {
		chunk = audio.Resample(samples, sampleRate, p.outputRate)
	}

	p.mu.Lock()
	p.chunks = append(p.chunks, chunk)
	p.buffered += len(chunk)
	p.streaming = true
	p.mu.Unlock()
}

// Pull copies up to len(out) queued samples into out and fills the remainder
// with silence. It never blocks waiting for audio.
func (p *Pipeline) Pull(out []float32) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	written := 0
	for written < len(out) && len(p.chunks) > 0 {
		head := p.chunks[0]
		n := copy(out[written:], head[p.cursor:])
		written += n
		p.cursor += n
		p.buffered -= n
		if p.cursor >= len(head) {
			p.chunks[0] = nil
			p.chunks = p.chunks[1:]
			p.cursor = 0
		}
	}
	clear(out[written:])

	return written
}

// Clear discards every queued sample and resets the read cursor. Any Pull
// that starts after Clear returns observes an empty queue.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	p.chunks = nil
	p.cursor = 0
	p.buffered = 0
	p.streaming = false
	p.mu.Unlock()
}

// EndStream records that the last frame of the current stream was pushed.
// The pipeline stays active until the queue drains.
func (p *Pipeline) EndStream() {
	p.mu.Lock()
	p.streaming = false
	p.mu.Unlock()
}

// Active reports whether assistant audio is audible or still expected.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streaming || p.buffered > 0
}

// Buffered reports the number of queued output samples.
func (p *Pipeline) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered
}

// Warm opens the output device ahead of the first inbound frame, e.g. on the
// first user gesture. Failures are logged and retried on the next Push.
func (p *Pipeline) Warm() {
	if err := p.ensureSink(); err != nil {
		logger.Warn("failed to initialise playback", "error", err)
	}
}

func (p *Pipeline) ensureSink() error {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()

	if p.closed {
		return fmt.Errorf("playback pipeline closed")
	}
	if p.newSink == nil || p.sink != nil {
		return nil
	}

	sink, err := p.newSink()
	if err != nil {
		return fmt.Errorf("failed to open playback sink: %w", err)
	}
	if err := sink.Start(p); err != nil {
		return fmt.Errorf("failed to start playback sink: %w", err)
	}

	p.sink = sink
	logger.Info("playback initialised", "output_sample_rate", p.outputRate)
	return nil
}

// Close stops the output device and clears the queue. The pipeline cannot be
// used afterwards. Repeated calls are ignored.
func (p *Pipeline) Close() error {
	p.Clear()

	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if p.sink == nil {
		return nil
	}
	sink := p.sink
	p.sink = nil
	if err := sink.Stop(); err != nil {
		return fmt.Errorf("failed to stop playback sink: %w", err)
	}
	return nil
}
