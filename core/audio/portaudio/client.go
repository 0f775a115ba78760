// Package portaudio captures microphone audio through PortAudio.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-dialog/core/audio"
)

const DefaultBufferSize = 512

type Client struct {
	stream *portaudio.Stream
	in     []int16

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewClient(bufferSize int) (*Client, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, audio.DefaultSampleRate, bufferSize, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}

	return &Client{stream: stream, in: in}, nil
}

// StartCapture starts reading the input stream on its own goroutine until
// StopCapture is called or ctx is done. Starting twice is a no-op.
func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return nil
	}

	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.stopped = make(chan struct{})
	go c.read(ctx, onAudio, c.stopped)
	return nil
}

func (c *Client) read(ctx context.Context, onAudio func(audio []byte), stopped chan<- struct{}) {
	defer close(stopped)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			logger.Warn("failed to read from portaudio stream", "error", err)
			return
		}

		audioBuffer := bytes.Buffer{}
		_ = binary.Write(&audioBuffer, binary.LittleEndian, c.in)
		onAudio(audioBuffer.Bytes())
	}
}

func (c *Client) StopCapture() error {
	c.mu.Lock()
	cancel, stopped := c.cancel, c.stopped
	c.cancel, c.stopped = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-stopped

	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop portaudio stream: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	var errs error
	if err := c.StopCapture(); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := c.stream.Close(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to close portaudio stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to terminate portaudio: %w", err))
	}
	return errs
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}
