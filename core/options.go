package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-dialog/core/audio"
	"github.com/koscakluka/ema-dialog/core/audio/speaker"
	"github.com/koscakluka/ema-dialog/core/backend"
	"github.com/koscakluka/ema-dialog/core/config"
	"github.com/koscakluka/ema-dialog/core/conversation"
	"github.com/koscakluka/ema-dialog/core/speechtotext"
	"github.com/koscakluka/ema-dialog/core/texttospeech"
)

type OrchestratorOption func(*Orchestrator)

type Microphone interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
	EncodingInfo() audio.EncodingInfo
}

func WithMicrophone(microphone Microphone) OrchestratorOption {
	return func(o *Orchestrator) { o.microphone = microphone }
}

type SpeechToText interface {
	Recognize(ctx context.Context, opts ...speechtotext.RecognitionOption) (speechtotext.Session, error)
}

func WithSpeechToTextClient(client SpeechToText) OrchestratorOption {
	return func(o *Orchestrator) { o.speechToText = client }
}

type TextToSpeech interface {
	Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesizeOption) (texttospeech.Utterance, error)
}

func WithTextToSpeechClient(client TextToSpeech) OrchestratorOption {
	return func(o *Orchestrator) { o.textToSpeech = client }
}

// Playback is a loaded clip, silent until Start.
type Playback interface {
	audio.Source
	Start() error
	Stop()
	Done() <-chan struct{}
	Err() error
}

type AudioPlayer interface {
	Load(ctx context.Context, url string) (Playback, error)
}

func WithAudioPlayer(player AudioPlayer) OrchestratorOption {
	return func(o *Orchestrator) { o.player = player }
}

// WithSpeaker plays reply recordings through s.
func WithSpeaker(s *speaker.Speaker) OrchestratorOption {
	return func(o *Orchestrator) {
		if s != nil {
			o.player = speakerPlayer{s}
		}
	}
}

type speakerPlayer struct {
	speaker *speaker.Speaker
}

func (p speakerPlayer) Load(ctx context.Context, url string) (Playback, error) {
	track, err := p.speaker.Load(ctx, url)
	if err != nil {
		return nil, err
	}
	return track, nil
}

type TurnEndpoint interface {
	Respond(ctx context.Context, turns []conversation.Turn) (*backend.Reply, error)
}

func WithTurnEndpoint(endpoint TurnEndpoint) OrchestratorOption {
	return func(o *Orchestrator) { o.endpoint = endpoint }
}

// WithEventHandler registers a handler for every published event. Handlers
// are called in registration order.
func WithEventHandler(handler EventHandler) OrchestratorOption {
	return func(o *Orchestrator) {
		if handler != nil {
			o.eventHandlers = append(o.eventHandlers, handler)
		}
	}
}

// WithFrameCallback receives a visualizer frame on every scheduler tick.
func WithFrameCallback(callback func(VisualizerFrame)) OrchestratorOption {
	return func(o *Orchestrator) { o.onFrame = callback }
}

func WithFrameScheduler(scheduler FrameScheduler) OrchestratorOption {
	return func(o *Orchestrator) { o.scheduler = scheduler }
}

func WithHistoryWindow(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.dialogConfig.historyWindow = n
		}
	}
}

func WithThinkingDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if delay > 0 {
			o.dialogConfig.thinkingDelay = delay
		}
	}
}

func WithThinkingText(text string) OrchestratorOption {
	return func(o *Orchestrator) {
		if text != "" {
			o.dialogConfig.thinkingText = text
		}
	}
}

func WithFallbackText(text string) OrchestratorOption {
	return func(o *Orchestrator) {
		if text != "" {
			o.dialogConfig.fallbackText = text
		}
	}
}

// WithGreeting replaces the greeting. An empty greeting disables it.
func WithGreeting(greeting string) OrchestratorOption {
	return func(o *Orchestrator) { o.dialogConfig.greeting = greeting }
}

func WithRestartDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if delay > 0 {
			o.restartDelay = delay
		}
	}
}

func WithLanguage(language string) OrchestratorOption {
	return func(o *Orchestrator) { o.language = language }
}

// WithVoice sets the preferred synthesis voice.
func WithVoice(voice string) OrchestratorOption {
	return func(o *Orchestrator) { o.voice = voice }
}

// WithConfig applies the dialog, recognition and voice settings of cfg.
// Clients are not created from it.
func WithConfig(cfg config.Config) OrchestratorOption {
	return func(o *Orchestrator) {
		for _, opt := range []OrchestratorOption{
			WithHistoryWindow(cfg.Dialog.HistoryWindow),
			WithThinkingDelay(cfg.Dialog.ThinkingDelay),
			WithThinkingText(cfg.Dialog.ThinkingText),
			WithFallbackText(cfg.Dialog.FallbackText),
			WithGreeting(cfg.Dialog.Greeting),
			WithRestartDelay(cfg.Recognition.RestartDelay),
			WithLanguage(cfg.Recognition.Language),
			WithVoice(cfg.TTS.Voice),
		} {
			opt(o)
		}
	}
}

func withAfterFunc(f afterFunc) OrchestratorOption {
	return func(o *Orchestrator) { o.afterFunc = f }
}

type OrchestrateOptions struct {
	listen bool
	greet  bool
}

type OrchestrateOption func(*OrchestrateOptions)

// WithListening starts recognition as soon as the orchestrator starts.
func WithListening() OrchestrateOption {
	return func(o *OrchestrateOptions) { o.listen = true }
}

// WithoutGreeting skips the greeting on start.
func WithoutGreeting() OrchestrateOption {
	return func(o *OrchestrateOptions) { o.greet = false }
}
