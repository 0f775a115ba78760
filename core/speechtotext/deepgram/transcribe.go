package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-dialog/core/speechtotext"
	"go.opentelemetry.io/otel/codes"
)

var ErrMissingAPIKey = errors.New("deepgram api key not found")

// Recognize opens a continuous recognition session. Dial failures are
// returned as [*speechtotext.Error]; rejected credentials map to
// [speechtotext.ErrorNotAllowed].
func (c *TranscriptionClient) Recognize(ctx context.Context, opts ...speechtotext.RecognitionOption) (speechtotext.Session, error) {
	ctx, span := tracer.Start(ctx, "start recognition session")
	defer span.End()

	options := speechtotext.NewRecognitionOptions(opts...)

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return nil, fmt.Errorf("invalid encoding: %w", err)
	}

	if c.apiKey == "" {
		span.RecordError(ErrMissingAPIKey)
		span.SetStatus(codes.Error, ErrMissingAPIKey.Error())
		return nil, speechtotext.NewError(speechtotext.ErrorServiceNotAllowed, ErrMissingAPIKey)
	}

	conn, err := c.connectWebsocket(ctx, connectionOptions{
		sampleRate: encoding.SampleRate,
		encoding:   encoding.Format.Name(),
		language:   options.Language,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open websocket")
		return nil, err
	}

	s := &session{
		conn:      conn,
		options:   options,
		lastAudio: time.Now(),
		closed:    make(chan struct{}),
	}
	go s.keepAlive()
	go s.readAndProcessMessages()

	options.StartCallback()
	return s, nil
}

type connectionOptions struct {
	sampleRate int
	encoding   string
	language   string
}

func (c *TranscriptionClient) connectWebsocket(ctx context.Context, options connectionOptions) (*websocket.Conn, error) {
	listenURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram url: %w", err)
	}

	language := options.language
	if language == "" {
		language = defaultLanguage
	}

	queryParams := listenURL.Query()
	queryParams.Set("encoding", options.encoding)
	queryParams.Set("sample_rate", strconv.Itoa(options.sampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", c.model)
	queryParams.Set("language", language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	queryParams.Set("vad_events", "true")
	listenURL.RawQuery = queryParams.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		code := speechtotext.ErrorNetwork
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			code = speechtotext.ErrorNotAllowed
		}
		return nil, speechtotext.NewError(code, fmt.Errorf("failed to open socket connection to deepgram: %w", err))
	}

	return conn, nil
}

type session struct {
	conn      *websocket.Conn
	connMu    sync.Mutex
	lastAudio time.Time
	stopping  bool

	options speechtotext.RecognitionOptions

	// results of the current utterance; only touched by the read loop
	results        []speechtotext.Result
	pendingInterim bool

	endOnce sync.Once
	closed  chan struct{}
}

func (s *session) SendAudio(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.lastAudio = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (s *session) Stop() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.stopping {
		return nil
	}
	s.stopping = true

	if err := s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		// the read loop will not see a graceful close, force it
		_ = s.conn.Close()
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	return nil
}

func (s *session) isStopping() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.stopping
}

func (s *session) sendKeepAlive() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.stopping || time.Since(s.lastAudio) < keepAliveInterval {
		return
	}

	if err := s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: "KeepAlive"}); err != nil {
		logger.Warn("failed to write keepalive to deepgram", "error", err)
	}
}

func (s *session) keepAlive() {
	ticker := time.NewTicker(keepAliveInterval / 5)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.sendKeepAlive()
		}
	}
}

func (s *session) readAndProcessMessages() {
	defer s.end()

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isStopping() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn("deepgram websocket closed unexpectedly", "error", err)
				s.options.ErrorCallback(speechtotext.NewError(speechtotext.ErrorNetwork, err))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			s.processMessage(msg)
		}
	}
}

func (s *session) end() {
	s.endOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
		s.options.EndCallback()
	})
}

func (s *session) processMessage(msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram results", "error", err)
			return
		}

		transcript := ""
		if len(msgResp.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		}
		s.onTranscript(transcript, msgResp.IsFinal)
		if msgResp.SpeechFinal {
			s.onUtteranceEnd()
		}

	case api.TypeUtteranceEndResponse:
		s.onUtteranceEnd()

	case api.TypeResponse(api.TypeErrorResponse):
		var errResp struct {
			Description string `json:"description"`
			Message     string `json:"message"`
		}
		_ = json.Unmarshal(msg, &errResp)
		s.options.ErrorCallback(speechtotext.NewError(speechtotext.ErrorNetwork,
			fmt.Errorf("deepgram error: %s %s", errResp.Description, errResp.Message)))
	}
}

func (s *session) onTranscript(transcript string, isFinal bool) {
	if !isFinal {
		if transcript == "" {
			return
		}
		s.pendingInterim = true
		s.emit(speechtotext.Result{Transcript: transcript})
		return
	}

	if transcript == "" && !s.pendingInterim {
		return
	}
	s.pendingInterim = false
	s.results = append(s.results, speechtotext.Result{Transcript: transcript, IsFinal: true})
	s.options.ResultCallback(append([]speechtotext.Result(nil), s.results...))
}

// emit reports an interim result after the finalized results of the
// utterance, without keeping it.
func (s *session) emit(interim speechtotext.Result) {
	results := make([]speechtotext.Result, 0, len(s.results)+1)
	results = append(results, s.results...)
	results = append(results, interim)
	s.options.ResultCallback(results)
}

func (s *session) onUtteranceEnd() {
	s.results = nil
}
