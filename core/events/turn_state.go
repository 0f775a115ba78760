package events

const (
	// KindTurnStarted identifies a turn request being sent.
	KindTurnStarted Kind = "turn_state.started"
	// KindAssistantThinking identifies the thinking filler for a slow turn.
	KindAssistantThinking Kind = "turn_state.thinking"
	// KindTurnCompleted identifies successful turn completion.
	KindTurnCompleted Kind = "turn_state.completed"
	// KindTurnFailed identifies turn failure.
	KindTurnFailed Kind = "turn_state.failed"
	// KindTurnCancelled identifies turn cancellation.
	KindTurnCancelled Kind = "turn_state.cancelled"
)

// TurnStarted marks a turn request being sent.
type TurnStarted struct {
	Base
	TurnID string
}

// NewTurnStarted creates a turn started event.
func NewTurnStarted(turnID string) TurnStarted {
	return TurnStarted{Base: NewBase(KindTurnStarted), TurnID: turnID}
}

// AssistantThinking marks the thinking filler being spoken for a turn.
type AssistantThinking struct {
	Base
	TurnID string
	Text   string
}

// NewAssistantThinking creates an assistant thinking event.
func NewAssistantThinking(turnID, text string) AssistantThinking {
	return AssistantThinking{Base: NewBase(KindAssistantThinking), TurnID: turnID, Text: text}
}

// TurnCompleted marks successful completion of a turn.
type TurnCompleted struct {
	Base
	TurnID string
}

// NewTurnCompleted creates a turn completed event.
func NewTurnCompleted(turnID string) TurnCompleted {
	return TurnCompleted{Base: NewBase(KindTurnCompleted), TurnID: turnID}
}

// TurnFailed marks a failed turn.
type TurnFailed struct {
	Base
	TurnID string
	Err    error
}

// NewTurnFailed creates a turn failed event.
func NewTurnFailed(turnID string, err error) TurnFailed {
	return TurnFailed{Base: NewBase(KindTurnFailed), TurnID: turnID, Err: err}
}

// TurnCancelled marks cancellation of a turn.
type TurnCancelled struct {
	Base
	TurnID string
}

// NewTurnCancelled creates a turn cancelled event.
func NewTurnCancelled(turnID string) TurnCancelled {
	return TurnCancelled{Base: NewBase(KindTurnCancelled), TurnID: turnID}
}
