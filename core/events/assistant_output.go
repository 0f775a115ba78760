package events

const (
	// KindAssistantOutputStarted identifies assistant audio becoming audible.
	KindAssistantOutputStarted Kind = "assistant_output.started"
	// KindAssistantOutputEnded identifies the end of assistant audio.
	KindAssistantOutputEnded Kind = "assistant_output.ended"
	// KindAssistantOutputFailed identifies failed synthesis or playback.
	KindAssistantOutputFailed Kind = "assistant_output.failed"
)

// Reasons carried by AssistantOutputEnded.
const (
	OutputEndCompleted = "completed"
	OutputEndPreempted = "preempted"
	OutputEndStopped   = "stopped"
)

// AssistantOutputStarted marks speech or playback becoming audible. Output is
// "speech" or "playback"; Text is set for speech, URL for playback.
type AssistantOutputStarted struct {
	Base
	Output string
	Text   string
	URL    string
}

// NewAssistantOutputStarted creates an assistant output started event.
func NewAssistantOutputStarted(output, text, url string) AssistantOutputStarted {
	return AssistantOutputStarted{Base: NewBase(KindAssistantOutputStarted), Output: output, Text: text, URL: url}
}

// AssistantOutputEnded marks the end of the audible output.
type AssistantOutputEnded struct {
	Base
	Output string
	Reason string
}

// NewAssistantOutputEnded creates an assistant output ended event.
func NewAssistantOutputEnded(output, reason string) AssistantOutputEnded {
	return AssistantOutputEnded{Base: NewBase(KindAssistantOutputEnded), Output: output, Reason: reason}
}

// AssistantOutputFailed marks failed synthesis or playback.
type AssistantOutputFailed struct {
	Base
	Output string
	Err    error
}

// NewAssistantOutputFailed creates an assistant output failed event.
func NewAssistantOutputFailed(output string, err error) AssistantOutputFailed {
	return AssistantOutputFailed{Base: NewBase(KindAssistantOutputFailed), Output: output, Err: err}
}
