// Package speechtotext defines the boundary of a continuous speech
// recognition service: sessions that accept audio and report start, end,
// error and result events.
package speechtotext

import "fmt"

type Result struct {
	Transcript string
	IsFinal    bool
}

type ErrorCode string

const (
	ErrorNoSpeech          ErrorCode = "no-speech"
	ErrorAudioCapture      ErrorCode = "audio-capture"
	ErrorNotAllowed        ErrorCode = "not-allowed"
	ErrorServiceNotAllowed ErrorCode = "service-not-allowed"
	ErrorNetwork           ErrorCode = "network"
	ErrorAborted           ErrorCode = "aborted"
)

// IsFatal reports whether the session must not be resumed without the user
// asking again.
func (c ErrorCode) IsFatal() bool {
	return c == ErrorNotAllowed || c == ErrorServiceNotAllowed
}

// IsTransientCapture reports whether the error only concerns the captured
// audio and recognition may carry on.
func (c ErrorCode) IsTransientCapture() bool {
	return c == ErrorNoSpeech || c == ErrorAudioCapture
}

type Error struct {
	Code ErrorCode
	Err  error
}

func NewError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("speech recognition error: %s", e.Code)
	}
	return fmt.Sprintf("speech recognition error: %s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Session is one continuous recognition session.
type Session interface {
	SendAudio(audio []byte) error
	// Stop asks the service to finish; the end callback fires once it has.
	Stop() error
}
