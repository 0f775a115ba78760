// Package deepgram recognizes speech with Deepgram's live transcription
// websocket.
package deepgram

import (
	"os"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultBaseURL    = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en-US"
	keepAliveInterval = 5 * time.Second
)

type TranscriptionClient struct {
	apiKey  string
	baseURL string
	model   string
	dialer  *websocket.Dialer
}

type ClientOption func(*TranscriptionClient)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *TranscriptionClient) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithModel(model string) ClientOption {
	return func(c *TranscriptionClient) {
		if model != "" {
			c.model = model
		}
	}
}

func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *TranscriptionClient) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// NewClient creates a recognizer. An empty apiKey falls back to the
// DEEPGRAM_API_KEY environment variable.
func NewClient(apiKey string, opts ...ClientOption) *TranscriptionClient {
	if apiKey == "" {
		apiKey = os.Getenv("DEEPGRAM_API_KEY")
	}

	client := &TranscriptionClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}
