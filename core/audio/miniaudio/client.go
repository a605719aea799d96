package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/playback"
)

const sampleRate = audio.DefaultOutputSampleRate

type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	playbackClient
	captureClient
}

func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) { logger.Debug("malgo", "message", message) },
	)
	if err != nil {
		return nil, fmt.Errorf("malgo context init failed: %w", err)
	}

	client := Client{
		audioContext: audioCtx,
	}

	if err := client.captureClient.Init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &client, nil
}

func (c *Client) StartCapture(ctx context.Context, onSamples func(samples []float32)) error {
	return c.captureClient.Start(ctx, onSamples)
}

func (c *Client) StopCapture() error {
	return c.captureClient.Stop()
}

// OpenPlayback initialises the playback device on first use. It is meant to
// be passed to the playback pipeline as its lazy sink factory.
func (c *Client) OpenPlayback() (playback.Sink, error) {
	if err := c.playbackClient.Init(c.audioContext); err != nil {
		return nil, err
	}
	return &c.playbackClient, nil
}

func (c *Client) Close() {
	_ = c.captureClient.Uninit()
	_ = c.playbackClient.Uninit()
	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingFloat32,
		Channels:   1,
	}
}

func (c *Client) OutputSampleRate() int {
	return sampleRate
}
