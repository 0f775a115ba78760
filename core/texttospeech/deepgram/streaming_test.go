package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-dialog/core/audio"
	"github.com/koscakluka/ema-dialog/core/texttospeech"
)

type stubTrack struct {
	mu         sync.Mutex
	written    int
	closed     bool
	started    bool
	stopped    bool
	sampleRate int
	done       chan struct{}
	doneOnce   sync.Once
}

func newStubTrack(sampleRate int) *stubTrack {
	return &stubTrack{sampleRate: sampleRate, done: make(chan struct{})}
}

func (t *stubTrack) Connect(audio.Tap) {}
func (t *stubTrack) Disconnect()       { t.Stop() }

func (t *stubTrack) Write(pcm []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return errors.New("stopped")
	}
	t.written += len(pcm)
	return nil
}

func (t *stubTrack) CloseWrite() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

func (t *stubTrack) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	return nil
}

func (t *stubTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *stubTrack) Done() <-chan struct{} { return t.done }
func (t *stubTrack) Err() error            { return nil }

func (t *stubTrack) state() (written int, closed, started, stopped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written, t.closed, t.started, t.stopped
}

type speakServer struct {
	*httptest.Server

	mu       sync.Mutex
	messages []websocketMessage
	query    string
}

func (s *speakServer) received() ([]websocketMessage, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]websocketMessage(nil), s.messages...), s.query
}

func newSpeakServer(t *testing.T, audioChunks int, flush bool) *speakServer {
	t.Helper()
	server := &speakServer{}
	upgrader := websocket.Upgrader{}
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.mu.Lock()
		server.query = r.URL.RawQuery
		server.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg websocketMessage
			_ = json.Unmarshal(raw, &msg)
			server.mu.Lock()
			server.messages = append(server.messages, msg)
			server.mu.Unlock()

			switch msg.Type {
			case "Flush":
				for range audioChunks {
					_ = conn.WriteMessage(websocket.BinaryMessage, make([]byte, 480))
				}
				if flush {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Flushed","sequence_id":0}`))
				}
			case "Close":
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(server *speakServer, track *stubTrack, opts ...ClientOption) *TextToSpeechClient {
	opts = append([]ClientOption{WithBaseURL("ws" + strings.TrimPrefix(server.URL, "http"))}, opts...)
	return NewTextToSpeechClient("test-key", func(sampleRate int) Track {
		track.sampleRate = sampleRate
		return track
	}, opts...)
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSynthesizeBuffersAudioUntilFlushed(t *testing.T) {
	server := newSpeakServer(t, 3, true)
	track := newStubTrack(0)
	client := newTestClient(server, track)

	utterance, err := client.Synthesize(context.Background(), "Hello there")
	if err != nil {
		t.Fatalf("expected synthesis to start, got %v", err)
	}

	waitForCondition(t, time.Second, func() bool {
		_, closed, _, _ := track.state()
		return closed
	})

	written, _, started, _ := track.state()
	if written != 3*480 {
		t.Fatalf("expected all audio written, got %d bytes", written)
	}
	if started {
		t.Fatalf("expected track to stay silent until Start")
	}
	if track.sampleRate != defaultSampleRate {
		t.Fatalf("expected track at %d Hz, got %d", defaultSampleRate, track.sampleRate)
	}

	if err := utterance.Start(); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	if _, _, started, _ := track.state(); !started {
		t.Fatalf("expected track started")
	}

	messages, query := server.received()
	if len(messages) < 2 || messages[0].Type != "Speak" || messages[0].Text != "Hello there" || messages[1].Type != "Flush" {
		t.Fatalf("expected Speak then Flush, got %+v", messages)
	}
	if !strings.Contains(query, "model="+string(defaultVoice)) {
		t.Fatalf("expected default voice in query, got %s", query)
	}
}

func TestSynthesizeFallsBackToDefaultVoice(t *testing.T) {
	server := newSpeakServer(t, 0, true)
	track := newStubTrack(0)
	client := newTestClient(server, track, WithDefaultVoice(string(VoiceOrion)))

	if _, err := client.Synthesize(context.Background(), "hi", texttospeech.WithVoice("no-such-voice")); err != nil {
		t.Fatalf("expected unknown voice not to be an error, got %v", err)
	}

	waitForCondition(t, time.Second, func() bool {
		_, query := server.received()
		return query != ""
	})
	if _, query := server.received(); !strings.Contains(query, "model="+string(VoiceOrion)) {
		t.Fatalf("expected fallback to configured default voice, got %s", query)
	}
}

func TestSynthesizeUsesPreferredVoice(t *testing.T) {
	server := newSpeakServer(t, 0, true)
	track := newStubTrack(0)
	client := newTestClient(server, track)

	if _, err := client.Synthesize(context.Background(), "hi", texttospeech.WithVoice(string(VoiceLuna))); err != nil {
		t.Fatalf("expected synthesis to start, got %v", err)
	}
	waitForCondition(t, time.Second, func() bool {
		_, query := server.received()
		return query != ""
	})
	if _, query := server.received(); !strings.Contains(query, "model="+string(VoiceLuna)) {
		t.Fatalf("expected preferred voice, got %s", query)
	}
}

func TestCancelSilencesAndClearsSynthesis(t *testing.T) {
	server := newSpeakServer(t, 1, false)
	track := newStubTrack(0)
	client := newTestClient(server, track)

	utterance, err := client.Synthesize(context.Background(), "a long reply")
	if err != nil {
		t.Fatalf("expected synthesis to start, got %v", err)
	}
	if err := utterance.Start(); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}

	utterance.Cancel()
	utterance.Cancel()

	if _, _, _, stopped := track.state(); !stopped {
		t.Fatalf("expected cancel to stop the track synchronously")
	}
	select {
	case <-utterance.Done():
	default:
		t.Fatalf("expected cancelled utterance to be done")
	}
	if err := utterance.Start(); !errors.Is(err, ErrUtteranceCancelled) {
		t.Fatalf("expected start after cancel to fail, got %v", err)
	}

	waitForCondition(t, time.Second, func() bool {
		messages, _ := server.received()
		for _, msg := range messages {
			if msg.Type == "Clear" {
				return true
			}
		}
		return false
	})
}

func TestSynthesizeRequiresAPIKey(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")
	client := NewTextToSpeechClient("", func(int) Track { return newStubTrack(0) })

	if _, err := client.Synthesize(context.Background(), "hi"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}
