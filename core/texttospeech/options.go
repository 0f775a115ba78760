// Package texttospeech defines the boundary of a speech synthesis engine.
// Synthesis is split from playback so that a caller can prepare an utterance
// and only make it audible once it is sure the utterance is still wanted.
package texttospeech

type SynthesizeOptions struct {
	// Voice is a preference; engines fall back to their default voice when it
	// is not available.
	Voice string
}

type SynthesizeOption func(*SynthesizeOptions)

func NewSynthesizeOptions(opts ...SynthesizeOption) SynthesizeOptions {
	options := SynthesizeOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithVoice(voice string) SynthesizeOption {
	return func(o *SynthesizeOptions) { o.Voice = voice }
}

// Utterance is one synthesized piece of speech.
type Utterance interface {
	// Start makes the utterance audible. Starting a cancelled utterance
	// fails; repeated calls are ignored.
	Start() error
	// Cancel stops synthesis and silences the utterance before returning.
	// Repeated calls are ignored.
	Cancel()
	// Done is closed once the utterance has been fully spoken or cancelled.
	Done() <-chan struct{}
	// Err reports why the utterance ended early, if it failed.
	Err() error
}
