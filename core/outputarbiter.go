package orchestration

import (
	"context"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-dialog/core/audio"
	"github.com/koscakluka/ema-dialog/core/events"
	"github.com/koscakluka/ema-dialog/core/texttospeech"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type OutputKind int

const (
	OutputSpeech OutputKind = iota
	OutputPlayback
)

func (k OutputKind) String() string {
	if k == OutputPlayback {
		return "playback"
	}
	return "speech"
}

// AudioOutput describes something the assistant says: synthesized Text or a
// recorded clip at URL.
type AudioOutput struct {
	Kind OutputKind
	Text string
	URL  string
}

// outputHandle is a prepared output that is silent until Start.
type outputHandle interface {
	Start() error
	// Stop silences the output before returning.
	Stop()
	Done() <-chan struct{}
	Err() error
}

type activeOutput struct {
	AudioOutput

	// ctx is cancelled once the output is superseded, aborting preparation.
	ctx    context.Context
	cancel context.CancelFunc

	handle outputHandle
	source audio.Source
}

// OutputArbiter makes sure at most one assistant output is audible. Every
// request supersedes whatever was current: the previous output is silenced
// before the new one is prepared, and a preparation that is overtaken by a
// later request never becomes audible.
type OutputArbiter struct {
	mu      sync.Mutex
	current *activeOutput

	textToSpeech TextToSpeech
	player       AudioPlayer
	graph        *AudioGraph
	voice        string
	emitEvent    eventEmitter
}

func newOutputArbiter(textToSpeech TextToSpeech, player AudioPlayer, graph *AudioGraph) *OutputArbiter {
	return &OutputArbiter{
		textToSpeech: textToSpeech,
		player:       player,
		graph:        graph,
		emitEvent:    noopEventEmitter,
	}
}

// Speak synthesizes text and makes it audible, superseding the current
// output. It returns once the speech has started, been superseded or failed.
func (a *OutputArbiter) Speak(ctx context.Context, text string) error {
	return a.SpeakIf(ctx, text, nil)
}

// SpeakIf is Speak for output that is only wanted while allowed reports
// true. allowed runs with the arbiter locked, so no other output can start
// between the check and the preemption. When it reports false nothing
// changes and SpeakIf returns nil.
func (a *OutputArbiter) SpeakIf(ctx context.Context, text string, allowed func() bool) error {
	ctx, span := tracer.Start(ctx, "speak")
	defer span.End()

	output, ok := a.supersede(ctx, AudioOutput{Kind: OutputSpeech, Text: text}, allowed)
	if !ok {
		return nil
	}
	if a.textToSpeech == nil {
		return a.fail(span, output, ErrNotConfigured)
	}

	utterance, err := a.textToSpeech.Synthesize(output.ctx, text, texttospeech.WithVoice(a.voice))
	if err != nil {
		return a.fail(span, output, fmt.Errorf("failed to synthesize speech: %w", err))
	}

	handle := utteranceHandle{utterance}
	source, _ := utterance.(audio.Source)
	return a.start(span, output, handle, source)
}

// Play fetches and plays the clip at url, superseding the current output.
func (a *OutputArbiter) Play(ctx context.Context, url string) error {
	return a.PlayIf(ctx, url, nil)
}

// PlayIf is Play guarded the same way as SpeakIf.
func (a *OutputArbiter) PlayIf(ctx context.Context, url string, allowed func() bool) error {
	ctx, span := tracer.Start(ctx, "play")
	defer span.End()

	output, ok := a.supersede(ctx, AudioOutput{Kind: OutputPlayback, URL: url}, allowed)
	if !ok {
		return nil
	}
	if a.player == nil {
		return a.fail(span, output, ErrNotConfigured)
	}

	playback, err := a.player.Load(output.ctx, url)
	if err != nil {
		return a.fail(span, output, fmt.Errorf("failed to load audio: %w", err))
	}

	return a.start(span, output, playback, playback)
}

// StopAll silences the current output, if any, and leaves nothing current.
// It reports whether anything was stopped.
func (a *OutputArbiter) StopAll() bool {
	a.mu.Lock()
	previous := a.current
	a.current = nil
	audible := a.silence(previous)
	a.mu.Unlock()

	if audible {
		a.emitEvent(events.NewAssistantOutputEnded(previous.Kind.String(), events.OutputEndStopped))
	}
	return previous != nil
}

// Current returns the output that is playing or being prepared.
func (a *OutputArbiter) Current() (AudioOutput, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return AudioOutput{}, false
	}
	return a.current.AudioOutput, true
}

// IsAudible reports whether the current output has started.
func (a *OutputArbiter) IsAudible() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil && a.current.handle != nil
}

func (a *OutputArbiter) supersede(ctx context.Context, output AudioOutput, allowed func() bool) (*activeOutput, bool) {
	a.mu.Lock()
	if allowed != nil && !allowed() {
		a.mu.Unlock()
		logger.Debug("skipping unwanted output", "output", output.Kind.String())
		return nil, false
	}
	prepareCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	next := &activeOutput{AudioOutput: output, ctx: prepareCtx, cancel: cancel}
	previous := a.current
	a.current = next
	audible := a.silence(previous)
	a.mu.Unlock()

	if audible {
		a.emitEvent(events.NewAssistantOutputEnded(previous.Kind.String(), events.OutputEndPreempted))
	}
	return next, true
}

// silence stops output and reports whether it had been audible. Must be
// called with a.mu held.
func (a *OutputArbiter) silence(output *activeOutput) bool {
	if output == nil {
		return false
	}
	output.cancel()
	if output.handle == nil {
		return false
	}

	output.handle.Stop()
	if output.source != nil {
		a.graph.DetachOutputSource(output.source)
	}
	return true
}

func (a *OutputArbiter) start(span trace.Span, output *activeOutput, handle outputHandle, source audio.Source) error {
	a.mu.Lock()
	if a.current != output {
		a.mu.Unlock()
		handle.Stop()
		logger.Debug("dropping superseded output", "output", output.Kind.String())
		return nil
	}

	if source != nil {
		a.graph.AttachOutputSource(source)
	}
	if err := handle.Start(); err != nil {
		if source != nil {
			a.graph.DetachOutputSource(source)
		}
		a.current = nil
		output.cancel()
		a.mu.Unlock()
		return a.report(span, output, fmt.Errorf("failed to start output: %w", err))
	}
	output.handle = handle
	output.source = source
	a.mu.Unlock()

	a.emitEvent(events.NewAssistantOutputStarted(output.Kind.String(), output.Text, output.URL))
	go a.awaitEnd(output)
	return nil
}

func (a *OutputArbiter) awaitEnd(output *activeOutput) {
	<-output.handle.Done()

	a.mu.Lock()
	if a.current != output {
		// superseded or stopped, already reported
		a.mu.Unlock()
		return
	}
	a.current = nil
	output.cancel()
	if output.source != nil {
		a.graph.DetachOutputSource(output.source)
	}
	a.mu.Unlock()

	if err := output.handle.Err(); err != nil {
		err = fmt.Errorf("%w: %w", ErrPlaybackFailure, err)
		logger.Warn("assistant output failed", "output", output.Kind.String(), "error", err)
		a.emitEvent(events.NewAssistantOutputFailed(output.Kind.String(), err))
		return
	}
	a.emitEvent(events.NewAssistantOutputEnded(output.Kind.String(), events.OutputEndCompleted))
}

// fail clears output if it is still current. Failures of superseded outputs
// are expected (their preparation was cancelled) and are not reported.
func (a *OutputArbiter) fail(span trace.Span, output *activeOutput, err error) error {
	a.mu.Lock()
	if a.current != output {
		a.mu.Unlock()
		return nil
	}
	a.current = nil
	output.cancel()
	a.mu.Unlock()

	return a.report(span, output, err)
}

func (a *OutputArbiter) report(span trace.Span, output *activeOutput, err error) error {
	err = fmt.Errorf("%w: %w", ErrPlaybackFailure, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Warn("assistant output failed", "output", output.Kind.String(), "error", err)
	a.emitEvent(events.NewAssistantOutputFailed(output.Kind.String(), err))
	return err
}

type utteranceHandle struct {
	texttospeech.Utterance
}

func (u utteranceHandle) Stop() { u.Cancel() }
