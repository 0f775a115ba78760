// Package deepgram synthesizes speech with Deepgram's streaming speak
// websocket and plays it through a PCM track.
package deepgram

import (
	"os"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-dialog/core/audio"
)

const (
	defaultBaseURL    = "wss://api.deepgram.com/v1/speak"
	defaultSampleRate = 24000
)

// Track receives the synthesized linear16 PCM and makes it audible.
// *speaker.PCMTrack satisfies it.
type Track interface {
	audio.Source
	Write(pcm []byte) error
	CloseWrite()
	Start() error
	Stop()
	Done() <-chan struct{}
	Err() error
}

type TrackFactory func(sampleRate int) Track

type TextToSpeechClient struct {
	apiKey     string
	baseURL    string
	voice      deepgramVoice
	sampleRate int
	dialer     *websocket.Dialer

	newTrack TrackFactory
}

type ClientOption func(*TextToSpeechClient)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *TextToSpeechClient) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithDefaultVoice sets the voice used when a request has no usable
// preference. Unknown voices are ignored.
func WithDefaultVoice(voice string) ClientOption {
	return func(c *TextToSpeechClient) {
		if isAvailable(voice) {
			c.voice = deepgramVoice(voice)
		} else if voice != "" {
			logger.Warn("unknown deepgram voice, keeping default", "voice", voice, "default", c.voice)
		}
	}
}

func WithSampleRate(sampleRate int) ClientOption {
	return func(c *TextToSpeechClient) {
		if sampleRate > 0 {
			c.sampleRate = sampleRate
		}
	}
}

func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *TextToSpeechClient) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// NewTextToSpeechClient creates a synthesizer whose utterances play through
// tracks made by newTrack. An empty apiKey falls back to the DEEPGRAM_API_KEY
// environment variable.
func NewTextToSpeechClient(apiKey string, newTrack TrackFactory, opts ...ClientOption) *TextToSpeechClient {
	if apiKey == "" {
		apiKey = os.Getenv("DEEPGRAM_API_KEY")
	}

	client := &TextToSpeechClient{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		voice:      defaultVoice,
		sampleRate: defaultSampleRate,
		dialer:     websocket.DefaultDialer,
		newTrack:   newTrack,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}
