package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-dialog/core/audio"
	"github.com/koscakluka/ema-dialog/core/events"
	"github.com/koscakluka/ema-dialog/core/speechtotext"
)

const DefaultRestartDelay = 100 * time.Millisecond

type RecognitionState int

const (
	RecognitionIdle RecognitionState = iota
	RecognitionListening
	RecognitionMuted
)

func (s RecognitionState) String() string {
	switch s {
	case RecognitionListening:
		return "listening"
	case RecognitionMuted:
		return "muted"
	default:
		return "idle"
	}
}

type recognitionCallbacks struct {
	onBargeIn         func()
	onFinalTranscript func(transcript string)
}

// RecognitionSession keeps speech recognition running for as long as the user
// wants to be heard. Recognition services end sessions on their own (silence,
// time limits, dropped connections); while listening is requested, every end
// is followed by exactly one restart.
type RecognitionSession struct {
	// starting serializes microphone acquisition.
	starting sync.Mutex

	mu            sync.Mutex
	state         RecognitionState
	active        bool
	speechStarted bool
	live          bool
	// generation identifies the current recognizer session; callbacks from
	// older sessions are ignored.
	generation   uint64
	ended        uint64
	session      speechtotext.Session
	restartTimer timer
	ctx          context.Context

	recognizer   SpeechToText
	microphone   Microphone
	graph        *AudioGraph
	tap          *captureSource
	restartDelay time.Duration
	language     string
	afterFunc    afterFunc
	emitEvent    eventEmitter
	callbacks    recognitionCallbacks
}

func newRecognitionSession(recognizer SpeechToText, microphone Microphone, graph *AudioGraph, callbacks recognitionCallbacks) *RecognitionSession {
	if callbacks.onBargeIn == nil {
		callbacks.onBargeIn = func() {}
	}
	if callbacks.onFinalTranscript == nil {
		callbacks.onFinalTranscript = func(string) {}
	}

	encodingInfo := audio.GetDefaultEncodingInfo()
	if microphone != nil {
		encodingInfo = microphone.EncodingInfo()
	}

	return &RecognitionSession{
		state:        RecognitionIdle,
		ctx:          context.Background(),
		recognizer:   recognizer,
		microphone:   microphone,
		graph:        graph,
		tap:          newCaptureSource(encodingInfo),
		restartDelay: DefaultRestartDelay,
		afterFunc:    realAfterFunc,
		emitEvent:    noopEventEmitter,
		callbacks:    callbacks,
	}
}

func (s *RecognitionSession) State() RecognitionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InputVisualState reports what the microphone indicator should show.
func (s *RecognitionSession) InputVisualState() InputVisualState {
	s.mu.Lock()
	live := s.live
	s.mu.Unlock()

	switch {
	case live:
		return InputRecognizing
	case !s.graph.HasInputSource():
		return InputMuted
	default:
		return InputOpen
	}
}

// Start acquires the microphone and begins recognizing. ctx is kept for the
// sessions started by later restarts.
func (s *RecognitionSession) Start(ctx context.Context) error {
	if s.recognizer == nil || s.microphone == nil {
		return fmt.Errorf("failed to start recognition: %w", ErrNotConfigured)
	}

	s.starting.Lock()
	defer s.starting.Unlock()

	s.mu.Lock()
	if s.state == RecognitionListening {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start while %s", ErrInvalidTransition, s.state)
	}
	previous := s.state
	s.state = RecognitionListening
	s.active = true
	s.speechStarted = false
	s.ctx = ctx
	s.generation++
	generation := s.generation
	s.mu.Unlock()

	if err := s.microphone.StartCapture(ctx, s.onAudio); err != nil {
		s.mu.Lock()
		if s.generation == generation {
			s.state = previous
			s.active = false
		}
		s.mu.Unlock()

		err = fmt.Errorf("failed to start microphone: %w: %w", ErrPermissionDenied, err)
		s.emitEvent(events.NewRecognitionFailed(string(speechtotext.ErrorNotAllowed), true, err))
		return err
	}

	s.mu.Lock()
	// Stop or close ran while the microphone was being acquired
	if !s.active || s.generation != generation {
		s.mu.Unlock()
		if err := s.microphone.StopCapture(); err != nil {
			logger.Warn("failed to stop microphone", "error", err)
		}
		return nil
	}
	s.graph.AttachInputSource(s.tap)
	s.mu.Unlock()

	s.emitEvent(events.NewRecognitionStateChanged(RecognitionListening.String()))
	s.startSession()
	return nil
}

// Stop ends recognition and releases the microphone.
func (s *RecognitionSession) Stop() error {
	s.mu.Lock()
	if s.state != RecognitionListening {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot stop while %s", ErrInvalidTransition, state)
	}
	session := s.deactivate()
	s.mu.Unlock()

	s.release(session)
	s.emitEvent(events.NewRecognitionStateChanged(RecognitionMuted.String()))
	return nil
}

// Toggle starts recognition when it is not listening and stops it otherwise.
func (s *RecognitionSession) Toggle(ctx context.Context) error {
	if s.State() == RecognitionListening {
		return s.Stop()
	}
	return s.Start(ctx)
}

// deactivate clears the listening intent and forgets the current session.
// Must be called with s.mu held.
func (s *RecognitionSession) deactivate() speechtotext.Session {
	s.active = false
	s.live = false
	s.speechStarted = false
	s.state = RecognitionMuted
	s.generation++
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}

	session := s.session
	s.session = nil
	return session
}

func (s *RecognitionSession) release(session speechtotext.Session) {
	if session != nil {
		if err := session.Stop(); err != nil {
			logger.Debug("failed to stop recognizer session", "error", err)
		}
	}
	s.graph.DetachInputSource()
	if err := s.microphone.StopCapture(); err != nil {
		logger.Warn("failed to stop microphone", "error", err)
	}
}

func (s *RecognitionSession) startSession() {
	s.mu.Lock()
	if !s.active || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.generation++
	generation := s.generation
	ctx := s.ctx
	s.mu.Unlock()

	session, err := s.recognizer.Recognize(ctx,
		speechtotext.WithStartCallback(func() { s.handleStart(generation) }),
		speechtotext.WithEndCallback(func() { s.handleEnd(generation) }),
		speechtotext.WithErrorCallback(func(err *speechtotext.Error) { s.handleError(generation, err) }),
		speechtotext.WithResultCallback(func(results []speechtotext.Result) { s.handleResults(generation, results) }),
		speechtotext.WithEncodingInfo(s.microphone.EncodingInfo()),
		speechtotext.WithLanguage(s.language),
	)
	if err != nil {
		var recognitionErr *speechtotext.Error
		if !errors.As(err, &recognitionErr) {
			recognitionErr = speechtotext.NewError(speechtotext.ErrorNetwork, err)
		}
		s.handleError(generation, recognitionErr)
		// a session that never started never ends on its own
		s.handleEnd(generation)
		return
	}

	s.mu.Lock()
	if generation != s.generation || generation == s.ended {
		s.mu.Unlock()
		if err := session.Stop(); err != nil {
			logger.Debug("failed to stop superseded recognizer session", "error", err)
		}
		return
	}
	s.session = session
	s.mu.Unlock()
}

func (s *RecognitionSession) handleStart(generation uint64) {
	s.mu.Lock()
	if generation != s.generation || !s.active {
		s.mu.Unlock()
		return
	}
	s.live = true
	s.mu.Unlock()

	// a transient capture error may have paused the tap
	s.graph.AttachInputSource(s.tap)
}

func (s *RecognitionSession) handleEnd(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation || generation == s.ended {
		return
	}
	s.ended = generation
	s.live = false
	s.session = nil
	s.speechStarted = false
	if !s.active {
		return
	}

	if s.restartTimer != nil {
		s.restartTimer.Stop()
	}
	s.restartTimer = s.afterFunc(s.restartDelay, func() { s.restart(generation) })
}

func (s *RecognitionSession) restart(generation uint64) {
	s.mu.Lock()
	if !s.active || generation != s.generation {
		s.mu.Unlock()
		return
	}
	s.restartTimer = nil
	ctx := s.ctx
	s.mu.Unlock()

	recognitionRestartCounter.Add(ctx, 1)
	logger.Debug("restarting recognition")
	s.startSession()
}

func (s *RecognitionSession) handleError(generation uint64, err *speechtotext.Error) {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}

	switch {
	case err.Code.IsTransientCapture():
		s.mu.Unlock()
		logger.Info("pausing microphone tap", "code", err.Code)
		s.graph.DetachInputSource()
		s.emitEvent(events.NewRecognitionFailed(string(err.Code), false, fmt.Errorf("%w: %w", ErrTransientCapture, err)))

	case err.Code.IsFatal():
		session := s.deactivate()
		s.mu.Unlock()
		logger.Error("speech recognition not permitted", "code", err.Code, "error", err)
		s.release(session)
		s.emitEvent(events.NewRecognitionFailed(string(err.Code), true, fmt.Errorf("%w: %w", ErrPermissionDenied, err)))
		s.emitEvent(events.NewRecognitionStateChanged(RecognitionMuted.String()))

	default:
		s.mu.Unlock()
		logger.Warn("speech recognition error", "code", err.Code, "error", err)
		s.emitEvent(events.NewRecognitionFailed(string(err.Code), false, err))
	}
}

// handleResults looks at the newest result only.
func (s *RecognitionSession) handleResults(generation uint64, results []speechtotext.Result) {
	if len(results) == 0 {
		return
	}
	last := results[len(results)-1]
	transcript := strings.TrimSpace(last.Transcript)

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	bargeIn := false
	if last.IsFinal {
		s.speechStarted = false
	} else if !s.speechStarted {
		s.speechStarted = true
		bargeIn = true
	}
	ctx := s.ctx
	s.mu.Unlock()

	if bargeIn {
		bargeInCounter.Add(ctx, 1)
		s.emitEvent(events.NewUserBargeIn())
		s.callbacks.onBargeIn()
	}

	if !last.IsFinal {
		s.emitEvent(events.NewUserTranscriptInterimUpdated(transcript))
		return
	}
	if transcript == "" {
		return
	}
	s.emitEvent(events.NewUserTranscriptFinal(transcript))
	s.callbacks.onFinalTranscript(transcript)
}

func (s *RecognitionSession) onAudio(pcm []byte) {
	s.tap.write(pcm)

	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return
	}
	if err := session.SendAudio(pcm); err != nil {
		logger.Debug("failed to send audio to recognizer", "error", err)
	}
}

// close releases everything regardless of state.
func (s *RecognitionSession) close() {
	s.mu.Lock()
	wasListening := s.state == RecognitionListening
	session := s.deactivate()
	s.mu.Unlock()

	if wasListening {
		s.release(session)
	}
}

var _ audio.Source = (*captureSource)(nil)

// captureSource exposes captured microphone audio as an [audio.Source] so the
// input analyzer can be connected to it.
type captureSource struct {
	encodingInfo audio.EncodingInfo

	mu  sync.Mutex
	tap audio.Tap
}

func newCaptureSource(encodingInfo audio.EncodingInfo) *captureSource {
	return &captureSource{encodingInfo: encodingInfo}
}

func (c *captureSource) Connect(tap audio.Tap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tap = tap
}

func (c *captureSource) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tap = nil
}

func (c *captureSource) write(pcm []byte) {
	if c.encodingInfo.Format != audio.EncodingLinear16 {
		return
	}

	c.mu.Lock()
	tap := c.tap
	c.mu.Unlock()
	if tap != nil {
		tap(audio.Linear16ToFloat(pcm))
	}
}
