package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koscakluka/ema-dialog/core/conversation"
	"github.com/koscakluka/ema-dialog/core/events"
)

type orchestratorFixture struct {
	orchestrator *Orchestrator
	microphone   *stubMicrophone
	recognizer   *stubRecognizer
	speech       *stubTextToSpeech
	player       *stubPlayer
	endpoint     *stubEndpoint
	clock        *manualClock
	events       *eventRecorder
}

func newOrchestratorFixture(opts ...OrchestratorOption) orchestratorFixture {
	player := newStubPlayer()
	f := orchestratorFixture{
		microphone: newStubMicrophone(),
		recognizer: &stubRecognizer{autoStart: true},
		speech:     newStubTextToSpeech(&player.audibility, &player.log),
		player:     player,
		endpoint:   &stubEndpoint{},
		clock:      &manualClock{},
		events:     &eventRecorder{},
	}
	f.orchestrator = NewOrchestrator(append([]OrchestratorOption{
		WithMicrophone(f.microphone),
		WithSpeechToTextClient(f.recognizer),
		WithTextToSpeechClient(f.speech),
		WithAudioPlayer(f.player),
		WithTurnEndpoint(f.endpoint),
		WithEventHandler(f.events.Handle),
		WithFrameScheduler(&stubScheduler{frames: make(chan time.Time)}),
		withAfterFunc(f.clock.AfterFunc),
	}, opts...)...)
	return f
}

func TestSpokenQuestionIsAnsweredAndPlayed(t *testing.T) {
	f := newOrchestratorFixture()
	defer f.orchestrator.Close()

	if err := f.orchestrator.Orchestrate(context.Background(), WithoutGreeting(), WithListening()); err != nil {
		t.Fatalf("expected orchestrate to succeed, got %v", err)
	}
	if state := f.orchestrator.InputVisualState(); state != InputRecognizing {
		t.Fatalf("expected recognizing, got %s", state)
	}

	session := f.recognizer.Session(t, 0)
	session.Interim("hel")
	session.Final("hello")

	call := f.endpoint.Call(t, 0)
	if len(call.turns) != 1 || call.turns[0] != conversation.UserTurn("hello") {
		t.Fatalf("expected [user: hello], got %v", call.turns)
	}
	call.Reply("hi there", "http://backend/play_audio/hi.mp3")

	waitForCondition(t, time.Second, "reply playback", func() bool {
		current, ok := f.orchestrator.CurrentOutput()
		return ok && current.URL == "http://backend/play_audio/hi.mp3" && f.player.audibility.playing.Load() == 1
	})

	want := []conversation.Turn{conversation.UserTurn("hello"), conversation.AssistantTurn("hi there")}
	history := f.orchestrator.History()
	if len(history) != 2 || history[0] != want[0] || history[1] != want[1] {
		t.Fatalf("expected history %v, got %v", want, history)
	}
}

func TestBargeInSilencesAssistantButKeepsPendingTurn(t *testing.T) {
	f := newOrchestratorFixture()
	defer f.orchestrator.Close()

	if err := f.orchestrator.Orchestrate(context.Background(), WithListening()); err != nil {
		t.Fatalf("expected orchestrate to succeed, got %v", err)
	}
	greeting := f.speech.Spoken(DefaultGreeting)
	if len(greeting) != 1 || !greeting[0].IsStarted() {
		t.Fatalf("expected the greeting to be spoken")
	}

	if err := f.orchestrator.SubmitText("what time is it"); err != nil {
		t.Fatalf("expected text to be accepted, got %v", err)
	}
	pending := f.endpoint.Call(t, 0)

	session := f.recognizer.Session(t, 0)
	session.Interim("wait")

	if !greeting[0].IsStopped() {
		t.Fatalf("expected barge-in to silence the greeting")
	}
	if _, ok := f.orchestrator.CurrentOutput(); ok {
		t.Fatalf("expected no current output after barge-in")
	}
	if pending.ctx.Err() != nil {
		t.Fatalf("expected barge-in to leave the pending turn alone")
	}
	if f.events.Count(events.KindUserBargeIn) != 1 {
		t.Fatalf("expected one barge-in event")
	}

	session.Interim("wait a second")
	session.Final("wait a second")

	second := f.endpoint.Call(t, 1)
	if pending.ctx.Err() == nil {
		t.Fatalf("expected the final transcript to supersede the pending turn")
	}
	if f.events.Count(events.KindUserTranscriptFinal) != 1 {
		t.Fatalf("expected exactly one final transcript")
	}

	pending.Reply("noon", "")
	second.Reply("sure", "")
	waitForCondition(t, time.Second, "turns to settle", func() bool { return !f.orchestrator.TurnPending() })
}

func TestThinkingFillerPlaysWhileWaiting(t *testing.T) {
	f := newOrchestratorFixture()
	defer f.orchestrator.Close()

	if err := f.orchestrator.Orchestrate(context.Background(), WithoutGreeting()); err != nil {
		t.Fatalf("expected orchestrate to succeed, got %v", err)
	}
	if err := f.orchestrator.SubmitText("tell me a story"); err != nil {
		t.Fatalf("expected text to be accepted, got %v", err)
	}
	call := f.endpoint.Call(t, 0)

	f.clock.Advance(DefaultThinkingDelay)
	filler := f.speech.Spoken(DefaultThinkingText)
	if len(filler) != 1 || !filler[0].IsStarted() {
		t.Fatalf("expected the filler to be spoken once")
	}

	call.Reply("once upon a time", "http://backend/play_audio/story.mp3")
	waitForCondition(t, time.Second, "story playback", func() bool {
		current, ok := f.orchestrator.CurrentOutput()
		return ok && current.Kind == OutputPlayback
	})
	if !filler[0].IsStopped() {
		t.Fatalf("expected the reply to preempt the filler")
	}
	if peak := f.player.audibility.peak.Load(); peak != 1 {
		t.Fatalf("expected one audible output at a time, peaked at %d", peak)
	}
}

func TestOrchestrateOnlyOnce(t *testing.T) {
	f := newOrchestratorFixture()

	if err := f.orchestrator.Orchestrate(context.Background(), WithoutGreeting()); err != nil {
		t.Fatalf("expected orchestrate to succeed, got %v", err)
	}
	if err := f.orchestrator.Orchestrate(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}

	f.orchestrator.Close()
	f.orchestrator.Close()
	if err := f.orchestrator.Orchestrate(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newOrchestratorFixture()

	if err := f.orchestrator.Orchestrate(context.Background(), WithListening()); err != nil {
		t.Fatalf("expected orchestrate to succeed, got %v", err)
	}
	if err := f.orchestrator.SubmitText("hello"); err != nil {
		t.Fatalf("expected text to be accepted, got %v", err)
	}
	call := f.endpoint.Call(t, 0)

	closed := make(chan struct{})
	go func() {
		f.orchestrator.Close()
		close(closed)
	}()

	waitForCondition(t, time.Second, "pending turn to be cancelled", func() bool { return call.ctx.Err() != nil })
	call.Reply("too late", "http://backend/play_audio/late.mp3")

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for close")
	}

	if f.microphone.IsCapturing() {
		t.Fatalf("expected the microphone to be released")
	}
	f.microphone.mu.Lock()
	closeCalls := f.microphone.closeCalls
	f.microphone.mu.Unlock()
	if closeCalls != 1 {
		t.Fatalf("expected the microphone to be closed once, got %d", closeCalls)
	}
	if f.player.audibility.playing.Load() != 0 {
		t.Fatalf("expected silence after close")
	}
	if len(f.player.Loaded("http://backend/play_audio/late.mp3")) != 0 {
		t.Fatalf("expected the late reply not to be loaded")
	}
}

func TestOrchestratorAppliesDialogOptions(t *testing.T) {
	f := newOrchestratorFixture(WithGreeting("Hey!"), WithThinkingText("One moment..."), WithHistoryWindow(2))
	defer f.orchestrator.Close()

	if err := f.orchestrator.Orchestrate(context.Background()); err != nil {
		t.Fatalf("expected orchestrate to succeed, got %v", err)
	}
	if len(f.speech.Spoken("Hey!")) != 1 {
		t.Fatalf("expected the custom greeting")
	}

	if err := f.orchestrator.SubmitText("hi"); err != nil {
		t.Fatalf("expected text to be accepted, got %v", err)
	}
	call := f.endpoint.Call(t, 0)
	if len(call.turns) != 2 {
		t.Fatalf("expected a window of 2 turns, got %v", call.turns)
	}

	f.clock.Advance(DefaultThinkingDelay)
	if len(f.speech.Spoken("One moment...")) != 1 {
		t.Fatalf("expected the custom filler")
	}
	call.Reply("hello", "")
}

func TestInputReturnsWhileReplyAudioLoads(t *testing.T) {
	f := newOrchestratorFixture()
	defer f.orchestrator.Close()

	if err := f.orchestrator.Orchestrate(context.Background(), WithoutGreeting()); err != nil {
		t.Fatalf("expected orchestrate to succeed, got %v", err)
	}
	url := "http://backend/play_audio/slow.mp3"
	gate := f.player.Gate(url)

	if err := f.orchestrator.SubmitText("hello"); err != nil {
		t.Fatalf("expected text to be accepted, got %v", err)
	}
	f.endpoint.Call(t, 0).Reply("hi there", url)

	waitForCondition(t, time.Second, "input to return", func() bool {
		return f.orchestrator.InputEnabled() && !f.orchestrator.TurnPending()
	})
	waitForCondition(t, time.Second, "reply audio to be loading", func() bool {
		current, ok := f.orchestrator.CurrentOutput()
		return ok && current.URL == url
	})
	if len(f.player.Loaded(url)) != 0 {
		t.Fatalf("expected the reply audio to still be loading")
	}

	if err := f.orchestrator.SubmitText("thanks"); err != nil {
		t.Fatalf("expected typed input while the audio loads, got %v", err)
	}

	close(gate)
	waitForCondition(t, time.Second, "reply playback", func() bool {
		loaded := f.player.Loaded(url)
		return len(loaded) == 1 && loaded[0].IsStarted()
	})
	f.endpoint.Call(t, 1).Reply("you're welcome", "")
}

func TestThinkingFillerNeverCutsOffResolvedReply(t *testing.T) {
	url := "http://backend/play_audio/answer.mp3"
	var (
		f    orchestratorFixture
		call *endpointCall
	)
	// the reply resolves and starts playing while the filler is announced
	resolveWhileThinking := func(event events.Event) {
		if event.Kind() != events.KindAssistantThinking {
			return
		}
		call.Reply("the answer", url)
		waitForCondition(t, time.Second, "reply playback", func() bool {
			loaded := f.player.Loaded(url)
			return len(loaded) == 1 && loaded[0].IsStarted()
		})
	}
	f = newOrchestratorFixture(WithEventHandler(resolveWhileThinking))
	defer f.orchestrator.Close()

	if err := f.orchestrator.Orchestrate(context.Background(), WithoutGreeting()); err != nil {
		t.Fatalf("expected orchestrate to succeed, got %v", err)
	}
	if err := f.orchestrator.SubmitText("what is the answer"); err != nil {
		t.Fatalf("expected text to be accepted, got %v", err)
	}
	call = f.endpoint.Call(t, 0)
	waitForCondition(t, time.Second, "thinking timer", func() bool { return f.clock.Pending() == 1 })

	f.clock.Advance(DefaultThinkingDelay)

	if f.events.Count(events.KindAssistantThinking) != 1 {
		t.Fatalf("expected the thinking timer to fire")
	}
	if filler := f.speech.Spoken(DefaultThinkingText); len(filler) != 0 {
		t.Fatalf("expected no filler once the reply is playing, got %d", len(filler))
	}
	current, ok := f.orchestrator.CurrentOutput()
	if !ok || current.Kind != OutputPlayback || current.URL != url {
		t.Fatalf("expected the reply to stay current, got %+v", current)
	}
	if f.player.Loaded(url)[0].IsStopped() {
		t.Fatalf("expected the reply to keep playing")
	}
}

func TestClosedOrchestratorRefusesInput(t *testing.T) {
	f := newOrchestratorFixture()

	if err := f.orchestrator.Orchestrate(context.Background(), WithoutGreeting()); err != nil {
		t.Fatalf("expected orchestrate to succeed, got %v", err)
	}
	f.orchestrator.Close()

	if err := f.orchestrator.SubmitText("hello"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed for typed input, got %v", err)
	}
	if err := f.orchestrator.dialog.HandleTranscript("hello"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed for speech, got %v", err)
	}
	if f.endpoint.Calls() != 0 {
		t.Fatalf("expected no turn requests after close, got %d", f.endpoint.Calls())
	}
	if got := len(f.orchestrator.History()); got != 0 {
		t.Fatalf("expected refused input to stay out of the history, got %d turns", got)
	}
}
