package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-dialog/core/audio"
	"github.com/koscakluka/ema-dialog/core/backend"
	"github.com/koscakluka/ema-dialog/core/conversation"
	"github.com/koscakluka/ema-dialog/core/events"
	"github.com/koscakluka/ema-dialog/core/speechtotext"
	"github.com/koscakluka/ema-dialog/core/texttospeech"
)

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}

// manualClock fires timers only when advanced, on the advancing goroutine.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			pending++
		}
	}
	return pending
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Handle(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) Count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, event := range r.events {
		if event.Kind() == kind {
			count++
		}
	}
	return count
}

func (r *eventRecorder) Last(kind events.Kind) (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind() == kind {
			return r.events[i], true
		}
	}
	return nil, false
}

type stubMicrophone struct {
	mu           sync.Mutex
	onAudio      func([]byte)
	startErr     error
	blocked      *blockedStart
	startCalls   int
	stopCalls    int
	closeCalls   int
	capturing    bool
	encodingInfo audio.EncodingInfo
}

func newStubMicrophone() *stubMicrophone {
	return &stubMicrophone{encodingInfo: audio.GetDefaultEncodingInfo()}
}

type blockedStart struct {
	waiting chan struct{}
	release chan struct{}
}

// BlockStart makes the next StartCapture wait for release. waiting is closed
// once it does.
func (m *stubMicrophone) BlockStart() (waiting <-chan struct{}, release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blocked := &blockedStart{waiting: make(chan struct{}), release: make(chan struct{})}
	m.blocked = blocked
	return blocked.waiting, func() { close(blocked.release) }
}

func (m *stubMicrophone) StartCapture(_ context.Context, onAudio func([]byte)) error {
	m.mu.Lock()
	blocked := m.blocked
	m.blocked = nil
	m.mu.Unlock()
	if blocked != nil {
		close(blocked.waiting)
		<-blocked.release
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.startCalls++
	if m.startErr != nil {
		return m.startErr
	}
	m.onAudio = onAudio
	m.capturing = true
	return nil
}

func (m *stubMicrophone) StopCapture() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopCalls++
	m.capturing = false
	m.onAudio = nil
	return nil
}

func (m *stubMicrophone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

func (m *stubMicrophone) EncodingInfo() audio.EncodingInfo { return m.encodingInfo }

func (m *stubMicrophone) IsCapturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturing
}

func (m *stubMicrophone) Feed(pcm []byte) {
	m.mu.Lock()
	onAudio := m.onAudio
	m.mu.Unlock()
	if onAudio != nil {
		onAudio(pcm)
	}
}

type stubRecognizerSession struct {
	options speechtotext.RecognitionOptions

	mu      sync.Mutex
	audio   int
	stopped bool
}

func (s *stubRecognizerSession) SendAudio(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio += len(audio)
	return nil
}

func (s *stubRecognizerSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *stubRecognizerSession) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *stubRecognizerSession) Start()                          { s.options.StartCallback() }
func (s *stubRecognizerSession) End()                            { s.options.EndCallback() }
func (s *stubRecognizerSession) Fail(code speechtotext.ErrorCode) { s.options.ErrorCallback(speechtotext.NewError(code, nil)) }

func (s *stubRecognizerSession) Interim(transcript string) {
	s.options.ResultCallback([]speechtotext.Result{{Transcript: transcript}})
}

func (s *stubRecognizerSession) Final(transcript string) {
	s.options.ResultCallback([]speechtotext.Result{{Transcript: transcript, IsFinal: true}})
}

type stubRecognizer struct {
	mu       sync.Mutex
	sessions []*stubRecognizerSession
	err      error
	// autoStart fires the start callback before Recognize returns, as the
	// deepgram client does.
	autoStart bool
}

func (r *stubRecognizer) Recognize(_ context.Context, opts ...speechtotext.RecognitionOption) (speechtotext.Session, error) {
	r.mu.Lock()
	if r.err != nil {
		err := r.err
		r.mu.Unlock()
		return nil, err
	}
	session := &stubRecognizerSession{options: speechtotext.NewRecognitionOptions(opts...)}
	r.sessions = append(r.sessions, session)
	autoStart := r.autoStart
	r.mu.Unlock()

	if autoStart {
		session.Start()
	}
	return session, nil
}

func (r *stubRecognizer) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *stubRecognizer) Session(t *testing.T, i int) *stubRecognizerSession {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.sessions) {
		t.Fatalf("expected recognizer session %d, only %d started", i, len(r.sessions))
	}
	return r.sessions[i]
}

// audibility tracks how many outputs are audible at once.
type audibility struct {
	playing atomic.Int32
	peak    atomic.Int32
}

func (a *audibility) start() {
	playing := a.playing.Add(1)
	for {
		peak := a.peak.Load()
		if playing <= peak || a.peak.CompareAndSwap(peak, playing) {
			return
		}
	}
}

func (a *audibility) stop() { a.playing.Add(-1) }

// stubPlayback implements both Playback and texttospeech.Utterance.
type stubPlayback struct {
	name       string
	audibility *audibility
	log        *callLog

	mu        sync.Mutex
	started   bool
	stopped   bool
	finished  bool
	startErr  error
	err       error
	tap       audio.Tap
	connected bool
	done      chan struct{}
}

func newStubPlayback(name string, audibility *audibility, log *callLog) *stubPlayback {
	return &stubPlayback{name: name, audibility: audibility, log: log, done: make(chan struct{})}
}

func (p *stubPlayback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startErr != nil {
		return p.startErr
	}
	if p.stopped {
		return errors.New("stopped")
	}
	if p.started {
		return nil
	}
	p.started = true
	p.audibility.start()
	p.log.add("start " + p.name)
	return nil
}

func (p *stubPlayback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.finished {
		return
	}
	p.stopped = true
	if p.started {
		p.audibility.stop()
		p.log.add("stop " + p.name)
	}
	close(p.done)
}

func (p *stubPlayback) Cancel() { p.Stop() }

// Finish ends the output naturally, with err when it failed midway.
func (p *stubPlayback) Finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.finished {
		return
	}
	p.finished = true
	p.err = err
	if p.started {
		p.audibility.stop()
	}
	close(p.done)
}

func (p *stubPlayback) Done() <-chan struct{} { return p.done }

func (p *stubPlayback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *stubPlayback) Connect(tap audio.Tap) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tap = tap
	p.connected = true
}

func (p *stubPlayback) Disconnect() {
	p.mu.Lock()
	p.tap = nil
	p.connected = false
	p.mu.Unlock()

	p.Stop()
}

func (p *stubPlayback) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *stubPlayback) IsStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *stubPlayback) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Render feeds samples to the connected tap, as the speaker does while
// playing.
func (p *stubPlayback) Render(samples []float64) {
	p.mu.Lock()
	tap := p.tap
	p.mu.Unlock()
	if tap != nil {
		tap(samples)
	}
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// stubPlayer loads a stubPlayback per URL. URLs with a gate block until the
// gate is closed or the load is cancelled.
type stubPlayer struct {
	audibility audibility
	log        callLog

	mu        sync.Mutex
	gates     map[string]chan struct{}
	errs      map[string]error
	playbacks map[string][]*stubPlayback
}

func newStubPlayer() *stubPlayer {
	return &stubPlayer{
		gates:     map[string]chan struct{}{},
		errs:      map[string]error{},
		playbacks: map[string][]*stubPlayback{},
	}
}

func (p *stubPlayer) Gate(url string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	gate := make(chan struct{})
	p.gates[url] = gate
	return gate
}

func (p *stubPlayer) Load(ctx context.Context, url string) (Playback, error) {
	p.mu.Lock()
	gate := p.gates[url]
	err := p.errs[url]
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	playback := newStubPlayback(url, &p.audibility, &p.log)
	p.mu.Lock()
	p.playbacks[url] = append(p.playbacks[url], playback)
	p.mu.Unlock()
	return playback, nil
}

func (p *stubPlayer) Loaded(url string) []*stubPlayback {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*stubPlayback(nil), p.playbacks[url]...)
}

type stubTextToSpeech struct {
	audibility *audibility
	log        *callLog

	mu         sync.Mutex
	err        error
	voices     []string
	utterances map[string][]*stubPlayback
}

func newStubTextToSpeech(audibility *audibility, log *callLog) *stubTextToSpeech {
	return &stubTextToSpeech{audibility: audibility, log: log, utterances: map[string][]*stubPlayback{}}
}

func (s *stubTextToSpeech) Synthesize(_ context.Context, text string, opts ...texttospeech.SynthesizeOption) (texttospeech.Utterance, error) {
	options := texttospeech.NewSynthesizeOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.voices = append(s.voices, options.Voice)
	if s.err != nil {
		return nil, s.err
	}
	utterance := newStubPlayback(text, s.audibility, s.log)
	s.utterances[text] = append(s.utterances[text], utterance)
	return utterance, nil
}

func (s *stubTextToSpeech) Spoken(text string) []*stubPlayback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*stubPlayback(nil), s.utterances[text]...)
}

type endpointResult struct {
	reply *backend.Reply
	err   error
}

type endpointCall struct {
	ctx    context.Context
	turns  []conversation.Turn
	result chan endpointResult
}

func (c *endpointCall) Reply(text, audioURL string) {
	c.result <- endpointResult{reply: &backend.Reply{Text: text, AudioURL: audioURL}}
}

func (c *endpointCall) Fail(err error) { c.result <- endpointResult{err: err} }

// stubEndpoint holds every request until the test resolves it. Cancelled
// requests still wait for their result, the way a late reply would arrive.
type stubEndpoint struct {
	mu    sync.Mutex
	calls []*endpointCall
}

func (e *stubEndpoint) Respond(ctx context.Context, turns []conversation.Turn) (*backend.Reply, error) {
	call := &endpointCall{ctx: ctx, turns: turns, result: make(chan endpointResult, 1)}
	e.mu.Lock()
	e.calls = append(e.calls, call)
	e.mu.Unlock()

	result := <-call.result
	return result.reply, result.err
}

func (e *stubEndpoint) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *stubEndpoint) Call(t *testing.T, i int) *endpointCall {
	t.Helper()
	waitForCondition(t, time.Second, "turn request", func() bool { return e.Calls() > i })

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[i]
}

type stubOutput struct {
	mu     sync.Mutex
	spoken []string
	played []string
}

func (o *stubOutput) Speak(_ context.Context, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spoken = append(o.spoken, text)
	return nil
}

// SpeakIf records text only when allowed reports true, checking it under
// the same lock that records outputs.
func (o *stubOutput) SpeakIf(_ context.Context, text string, allowed func() bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if allowed == nil || allowed() {
		o.spoken = append(o.spoken, text)
	}
	return nil
}

func (o *stubOutput) PlayIf(_ context.Context, url string, allowed func() bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if allowed == nil || allowed() {
		o.played = append(o.played, url)
	}
	return nil
}

func (o *stubOutput) Spoken() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.spoken...)
}

func (o *stubOutput) Played() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.played...)
}

type stubSource struct {
	mu           sync.Mutex
	tap          audio.Tap
	disconnected int
}

func (s *stubSource) Connect(tap audio.Tap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tap = tap
}

func (s *stubSource) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tap = nil
	s.disconnected++
}

func (s *stubSource) Render(samples []float64) {
	s.mu.Lock()
	tap := s.tap
	s.mu.Unlock()
	if tap != nil {
		tap(samples)
	}
}

func (s *stubSource) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}
