// Package miniaudio captures microphone audio through miniaudio (malgo).
package miniaudio

import (
	"context"
	"errors"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-dialog/core/audio"
)

type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	captureClient
}

// NewClient opens the default capture device. Nothing is recorded until
// StartCapture is called.
func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{audioContext: audioCtx}
	if err := client.captureClient.Init(audioCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &client, nil
}

func (c *Client) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return c.captureClient.Start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.captureClient.Stop()
}

func (c *Client) Close() error {
	var errs error
	if err := c.captureClient.Stop(); err != nil && !errors.Is(err, errDeviceNotInitialized) {
		errs = errors.Join(errs, err)
	}
	_ = c.captureClient.Uninit()
	if err := c.audioContext.Uninit(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to uninitialize audio context: %w", err))
	}
	c.audioContext.Free()
	return errs
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}
