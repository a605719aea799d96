package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-live/core/playback"
)

type playbackClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	source  playback.Source
	scratch []float32

	mu       sync.Mutex
	sourceMu sync.Mutex
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return nil
	}

	channels := 1
	format := malgo.FormatF32

	c.config = malgo.DefaultDeviceConfig(malgo.Playback)
	c.config.SampleRate = sampleRate
	c.config.Playback.Format = format
	c.config.Playback.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = sampleRate / 50 // ~20ms of audio
	c.config.Periods = 3

	c.audioContext = audioContext

	var err error
	if c.device, err = malgo.InitDevice(
		c.audioContext.Context,
		c.config,
		malgo.DeviceCallbacks{Data: c.processAudio},
	); err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	return nil
}

// Start begins pulling samples from source on the device callback thread.
func (c *playbackClient) Start(source playback.Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}

	c.sourceMu.Lock()
	c.source = source
	c.sourceMu.Unlock()

	if c.device.IsStarted() {
		return nil
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	return nil
}

func (c *playbackClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sourceMu.Lock()
	c.source = nil
	c.sourceMu.Unlock()

	if c.device == nil || !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop playback device: %w", err)
	}
	return nil
}

func (c *playbackClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return nil
	}

	c.device.Uninit()
	c.device = nil
	return nil
}

func (c *playbackClient) processAudio(pOutput, _ []byte, frameCount uint32) {
	need := int(frameCount)
	if len(pOutput) < need*4 {
		need = len(pOutput) / 4
	}

	c.sourceMu.Lock()
	defer c.sourceMu.Unlock()
	if c.source == nil {
		clear(pOutput)
		return
	}

	if cap(c.scratch) < need {
		c.scratch = make([]float32, need)
	}
	c.scratch = c.scratch[:need]
	c.source.Pull(c.scratch)
	encodeFloat32(pOutput, c.scratch)
}
