package events

const (
	// KindTranscriptAppended identifies a turn appended to the conversation.
	KindTranscriptAppended Kind = "transcript.appended"
	// KindInputAvailabilityChanged identifies typed input being enabled or disabled.
	KindInputAvailabilityChanged Kind = "transcript.input_availability_changed"
)

// TranscriptAppended carries a turn as it was appended to the history.
type TranscriptAppended struct {
	Base
	Role    string
	Content string
}

// NewTranscriptAppended creates a transcript appended event.
func NewTranscriptAppended(role, content string) TranscriptAppended {
	return TranscriptAppended{Base: NewBase(KindTranscriptAppended), Role: role, Content: content}
}

// InputAvailabilityChanged carries whether typed input is accepted.
type InputAvailabilityChanged struct {
	Base
	Enabled bool
}

// NewInputAvailabilityChanged creates an input availability changed event.
func NewInputAvailabilityChanged(enabled bool) InputAvailabilityChanged {
	return InputAvailabilityChanged{Base: NewBase(KindInputAvailabilityChanged), Enabled: enabled}
}
