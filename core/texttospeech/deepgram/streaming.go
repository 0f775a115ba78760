package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-dialog/core/audio"
	"github.com/koscakluka/ema-dialog/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrMissingAPIKey      = errors.New("deepgram api key not found")
	ErrUtteranceCancelled = errors.New("utterance cancelled")
	errNoTrackFactory     = errors.New("no track factory configured")
)

// Synthesize opens a speak connection, queues text on it and returns the
// utterance. Audio is buffered from then on but stays silent until Start.
func (c *TextToSpeechClient) Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesizeOption) (texttospeech.Utterance, error) {
	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()

	options := texttospeech.NewSynthesizeOptions(opts...)
	voice := c.voice
	if options.Voice != "" {
		if isAvailable(options.Voice) {
			voice = deepgramVoice(options.Voice)
		} else {
			logger.Warn("preferred voice unavailable, falling back to default",
				"voice", options.Voice, "default", voice)
		}
	}
	span.SetAttributes(attribute.String("voice", string(voice)))

	if c.newTrack == nil {
		return nil, errNoTrackFactory
	}
	if c.apiKey == "" {
		span.RecordError(ErrMissingAPIKey)
		span.SetStatus(codes.Error, ErrMissingAPIKey.Error())
		return nil, ErrMissingAPIKey
	}

	ws, err := c.connectWebsocket(ctx, voice)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open websocket")
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	u := &utterance{ws: ws, track: c.newTrack(c.sampleRate)}
	if err := u.sendWebsocketMessage(speakMsg(text)); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to send text: %w", err)
	}
	if err := u.sendWebsocketMessage(flushMsg); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to flush text: %w", err)
	}

	go u.processIncomingMessages()
	return u, nil
}

func (c *TextToSpeechClient) connectWebsocket(ctx context.Context, voice deepgramVoice) (*websocket.Conn, error) {
	speakURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram url: %w", err)
	}

	urlValues := speakURL.Query()
	urlValues.Set("encoding", audio.EncodingLinear16.Name())
	urlValues.Set("sample_rate", strconv.Itoa(c.sampleRate))
	urlValues.Set("model", string(voice))
	urlValues.Set("container", "none")
	speakURL.RawQuery = urlValues.Encode()

	conn, _, err := c.dialer.DialContext(ctx, speakURL.String(),
		http.Header{"Authorization": {"token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

type utterance struct {
	ws    *websocket.Conn
	track Track

	mu        sync.Mutex
	closed    bool
	cancelled bool
	err       error
}

var _ audio.Source = (*utterance)(nil)

func (u *utterance) Start() error {
	u.mu.Lock()
	cancelled := u.cancelled
	u.mu.Unlock()
	if cancelled {
		return ErrUtteranceCancelled
	}

	return u.track.Start()
}

func (u *utterance) Cancel() {
	u.mu.Lock()
	if u.cancelled {
		u.mu.Unlock()
		return
	}
	u.cancelled = true
	u.mu.Unlock()

	_ = u.sendWebsocketMessage(clearMsg)
	u.close()
	u.track.Stop()
}

func (u *utterance) Done() <-chan struct{} { return u.track.Done() }

func (u *utterance) Err() error {
	u.mu.Lock()
	err := u.err
	u.mu.Unlock()
	if err != nil {
		return err
	}
	return u.track.Err()
}

func (u *utterance) Connect(tap audio.Tap) { u.track.Connect(tap) }
func (u *utterance) Disconnect()          { u.track.Disconnect() }

func (u *utterance) processIncomingMessages() {
	defer u.track.CloseWrite()

	for {
		msgType, msg, err := u.ws.ReadMessage()
		if err != nil {
			u.mu.Lock()
			expected := u.closed || u.cancelled
			u.mu.Unlock()
			if !expected && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn("deepgram speak websocket closed unexpectedly", "error", err)
				u.fail(err)
			}
			u.close()
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(msg) == 0 {
				continue
			}
			if err := u.track.Write(msg); err != nil {
				// track stopped, nobody is listening anymore
				u.close()
				return
			}
		case websocket.TextMessage:
			var parsedMsg struct {
				Type        string `json:"type"`
				Description string `json:"description"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.Debug("failed to unmarshal deepgram message", "error", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				// all queued text has been synthesized
				u.close()
				return
			case "Warning", "Error":
				logger.Warn("deepgram speak message", "type", parsedMsg.Type, "description", parsedMsg.Description)
				if parsedMsg.Type == "Error" {
					u.fail(fmt.Errorf("deepgram error: %s", parsedMsg.Description))
					u.close()
					return
				}
			}
		}
	}
}

func (u *utterance) fail(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err == nil {
		u.err = err
	}
}

func (u *utterance) close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}
	u.closed = true

	_ = u.ws.WriteJSON(closeMsg)
	_ = u.ws.Close()
}

type websocketMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

var (
	speakMsg = func(text string) websocketMessage { return websocketMessage{Type: "Speak", Text: text} }
	flushMsg = websocketMessage{Type: "Flush"}
	clearMsg = websocketMessage{Type: "Clear"}
	closeMsg = websocketMessage{Type: "Close"}
)

func (u *utterance) sendWebsocketMessage(msg websocketMessage) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return fmt.Errorf("websocket connection closed")
	}

	if err := u.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}
