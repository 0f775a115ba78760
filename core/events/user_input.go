package events

const (
	// KindUserBargeIn identifies the first sign of user speech since the last final result.
	KindUserBargeIn Kind = "user_input.barge_in"
	// KindUserTranscriptInterimUpdated identifies mutable interim transcript snapshots.
	KindUserTranscriptInterimUpdated Kind = "user_input.transcript_interim_updated"
	// KindUserTranscriptFinal identifies the terminal transcript of an utterance.
	KindUserTranscriptFinal Kind = "user_input.transcript_final"
)

// UserBargeIn marks the user starting to speak.
type UserBargeIn struct{ Base }

// NewUserBargeIn creates a barge-in event.
func NewUserBargeIn() UserBargeIn {
	return UserBargeIn{Base: NewBase(KindUserBargeIn)}
}

// UserTranscriptInterimUpdated carries the current interim transcript.
type UserTranscriptInterimUpdated struct {
	Base
	Transcript string
}

// NewUserTranscriptInterimUpdated creates an interim transcript updated event.
func NewUserTranscriptInterimUpdated(transcript string) UserTranscriptInterimUpdated {
	return UserTranscriptInterimUpdated{Base: NewBase(KindUserTranscriptInterimUpdated), Transcript: transcript}
}

// UserTranscriptFinal carries the final transcript of an utterance.
type UserTranscriptFinal struct {
	Base
	Transcript string
}

// NewUserTranscriptFinal creates a final transcript event.
func NewUserTranscriptFinal(transcript string) UserTranscriptFinal {
	return UserTranscriptFinal{Base: NewBase(KindUserTranscriptFinal), Transcript: transcript}
}
