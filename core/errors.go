package orchestration

import "errors"

var (
	// ErrPermissionDenied means the microphone or recognizer refused access.
	// Listening stays off until the user explicitly starts it again.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTransientCapture covers no-speech and audio-capture errors; the
	// microphone tap pauses but recognition intent is kept.
	ErrTransientCapture = errors.New("transient capture error")
	// ErrNetworkFailure is a failed turn request (transport error or non-2xx).
	ErrNetworkFailure = errors.New("network failure")
	// ErrTurnCancelled marks a turn superseded by a newer one. It is never
	// shown to the user.
	ErrTurnCancelled = errors.New("turn cancelled")
	// ErrPlaybackFailure covers synthesis and playback errors.
	ErrPlaybackFailure = errors.New("playback failure")

	ErrInvalidTransition = errors.New("invalid recognition state transition")
	ErrInputDisabled     = errors.New("input disabled while a turn is pending")
	ErrEmptyInput        = errors.New("empty input")
	ErrNotConfigured     = errors.New("client not configured")
)
