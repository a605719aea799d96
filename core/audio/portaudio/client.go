package portaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/playback"
)

// Client captures and plays mono float32 audio through the default PortAudio
// devices using callback streams.
type Client struct {
	bufferSize int

	mu             sync.Mutex
	captureStream  *portaudio.Stream
	onSamples      func(samples []float32)
	playbackStream *portaudio.Stream
	source         playback.Source
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	return &Client{bufferSize: bufferSize}, nil
}

func (c *Client) StartCapture(_ context.Context, onSamples func(samples []float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onSamples = onSamples
	if c.captureStream != nil {
		return nil
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(audio.DefaultSampleRate), c.bufferSize, c.processInput)
	if err != nil {
		return fmt.Errorf("failed to open portaudio input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start portaudio input stream: %w", err)
	}

	c.captureStream = stream
	return nil
}

func (c *Client) StopCapture() error {
	c.mu.Lock()
	stream := c.captureStream
	c.captureStream = nil
	c.onSamples = nil
	c.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to stop portaudio input stream: %w", err)
	}
	return stream.Close()
}

func (c *Client) processInput(in []float32) {
	c.mu.Lock()
	onSamples := c.onSamples
	c.mu.Unlock()
	if onSamples == nil {
		return
	}

	samples := make([]float32, len(in))
	copy(samples, in)
	onSamples(samples)
}

// OpenPlayback returns the client itself as the playback sink; the output
// stream is only opened once Start is called.
func (c *Client) OpenPlayback() (playback.Sink, error) {
	return (*playbackSink)(c), nil
}

type playbackSink Client

func (s *playbackSink) Start(source playback.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.source = source
	if s.playbackStream != nil {
		return nil
	}

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(audio.DefaultOutputSampleRate), s.bufferSize, s.processOutput)
	if err != nil {
		return fmt.Errorf("failed to open portaudio output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start portaudio output stream: %w", err)
	}

	s.playbackStream = stream
	return nil
}

func (s *playbackSink) Stop() error {
	s.mu.Lock()
	stream := s.playbackStream
	s.playbackStream = nil
	s.source = nil
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to stop portaudio output stream: %w", err)
	}
	return stream.Close()
}

func (s *playbackSink) processOutput(out []float32) {
	s.mu.Lock()
	source := s.source
	s.mu.Unlock()

	if source == nil {
		clear(out)
		return
	}
	source.Pull(out)
}

func (c *Client) Close() {
	_ = c.StopCapture()
	_ = (*playbackSink)(c).Stop()
	_ = portaudio.Terminate()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingFloat32,
		Channels:   1,
	}
}

func (c *Client) OutputSampleRate() int {
	return audio.DefaultOutputSampleRate
}
