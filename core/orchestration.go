// Package orchestration runs a spoken dialog: it keeps speech recognition
// alive, turns user input into requests to a reply endpoint, arbitrates what
// the assistant says and feeds the audio visualizer.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-dialog/core/conversation"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrAlreadyStarted = errors.New("orchestrator already started")
	ErrClosed         = errors.New("orchestrator closed")
)

type Orchestrator struct {
	history     *conversation.History
	graph       *AudioGraph
	output      *OutputArbiter
	recognition *RecognitionSession
	dialog      *DialogTurnController
	sampler     *VisualizationSampler

	microphone    Microphone
	speechToText  SpeechToText
	textToSpeech  TextToSpeech
	player        AudioPlayer
	endpoint      TurnEndpoint
	eventHandlers []EventHandler
	onFrame       func(VisualizerFrame)
	scheduler     FrameScheduler
	dialogConfig  dialogConfig
	restartDelay  time.Duration
	language      string
	voice         string
	afterFunc     afterFunc

	mu          sync.Mutex
	started     bool
	closed      bool
	baseContext context.Context
	closeOnce   sync.Once
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		history:      &conversation.History{},
		graph:        NewAudioGraph(),
		dialogConfig: defaultDialogConfig(),
		restartDelay: DefaultRestartDelay,
		afterFunc:    realAfterFunc,
		baseContext:  context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}

	emitEvent := newFanOutEmitter(o.eventHandlers)

	o.output = newOutputArbiter(o.textToSpeech, o.player, o.graph)
	o.output.voice = o.voice
	o.output.emitEvent = emitEvent

	o.dialog = newDialogTurnController(o.history, o.endpoint, o.output, o.dialogConfig)
	o.dialog.afterFunc = o.afterFunc
	o.dialog.emitEvent = emitEvent

	o.recognition = newRecognitionSession(o.speechToText, o.microphone, o.graph, recognitionCallbacks{
		// barge-in only silences the assistant, a pending turn carries on
		onBargeIn: func() { o.output.StopAll() },
		onFinalTranscript: func(transcript string) {
			if err := o.dialog.HandleTranscript(transcript); err != nil {
				logger.Warn("failed to handle transcript", "error", err)
			}
		},
	})
	o.recognition.restartDelay = o.restartDelay
	o.recognition.language = o.language
	o.recognition.afterFunc = o.afterFunc
	o.recognition.emitEvent = emitEvent

	o.sampler = NewVisualizationSampler(o.graph, o.recognition.InputVisualState, o.scheduler, o.onFrame)
	return o
}

// Orchestrate starts the visualizer and greets the user. ctx is the base
// context of every turn request and recognition session; once it is done the
// orchestrator closes itself.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) error {
	options := OrchestrateOptions{greet: true}
	for _, opt := range opts {
		opt(&options)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.baseContext = ctx
	o.mu.Unlock()

	o.dialog.setBaseContext(ctx)
	o.sampler.Start(ctx)
	go func() {
		<-ctx.Done()
		o.Close()
	}()

	if options.greet {
		if err := o.dialog.Greet(ctx); err != nil {
			o.recordError(fmt.Errorf("failed to greet: %w", err))
		}
	}

	if options.listen {
		if err := o.recognition.Start(ctx); err != nil {
			recordedErr := fmt.Errorf("failed to start listening: %w", err)
			o.recordError(recordedErr)
			return recordedErr
		}
	}
	return nil
}

// Close stops listening, silences the assistant, abandons a pending turn and
// waits for it to wind down. It is safe to call more than once.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()

		o.sampler.Stop()
		o.recognition.close()
		o.dialog.close()
		o.output.StopAll()
		o.dialog.wait()

		if closer, ok := o.microphone.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				o.recordError(fmt.Errorf("failed to close microphone: %w", err))
			}
		}
	})
}

func (o *Orchestrator) StartListening() error {
	return o.recognition.Start(o.currentContext())
}

func (o *Orchestrator) StopListening() error { return o.recognition.Stop() }

func (o *Orchestrator) ToggleListening() error {
	return o.recognition.Toggle(o.currentContext())
}

// SubmitText sends typed input. It fails with [ErrInputDisabled] while a
// reply is pending, with [ErrEmptyInput] for blank text and with
// [ErrClosed] after Close.
func (o *Orchestrator) SubmitText(text string) error { return o.dialog.SubmitText(text) }

// StopSpeaking silences the assistant without touching a pending turn.
func (o *Orchestrator) StopSpeaking() { o.output.StopAll() }

func (o *Orchestrator) RecognitionState() RecognitionState { return o.recognition.State() }
func (o *Orchestrator) InputVisualState() InputVisualState { return o.recognition.InputVisualState() }
func (o *Orchestrator) InputEnabled() bool                 { return o.dialog.InputEnabled() }
func (o *Orchestrator) TurnPending() bool                  { return o.dialog.Pending() }
func (o *Orchestrator) CurrentOutput() (AudioOutput, bool) { return o.output.Current() }
func (o *Orchestrator) History() []conversation.Turn       { return o.history.Turns() }
func (o *Orchestrator) VisualizerFrame() VisualizerFrame   { return o.sampler.Sample() }

func (o *Orchestrator) currentContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.baseContext
}

func (o *Orchestrator) recordError(err error) {
	logger.Error(err.Error())
	span := trace.SpanFromContext(o.currentContext())
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
