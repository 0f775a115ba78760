package events

import (
	"errors"
	"testing"
)

func TestConstructorsEmitExpectedKinds(t *testing.T) {
	testCases := []struct {
		name     string
		event    Event
		expected Kind
	}{
		{name: "user barge in", event: NewUserBargeIn(), expected: KindUserBargeIn},
		{name: "user interim updated", event: NewUserTranscriptInterimUpdated("text"), expected: KindUserTranscriptInterimUpdated},
		{name: "user transcript final", event: NewUserTranscriptFinal("text"), expected: KindUserTranscriptFinal},
		{name: "recognition state changed", event: NewRecognitionStateChanged("listening"), expected: KindRecognitionStateChanged},
		{name: "recognition failed", event: NewRecognitionFailed("not-allowed", true, errors.New("denied")), expected: KindRecognitionFailed},
		{name: "transcript appended", event: NewTranscriptAppended("user", "hello"), expected: KindTranscriptAppended},
		{name: "input availability changed", event: NewInputAvailabilityChanged(false), expected: KindInputAvailabilityChanged},
		{name: "turn started", event: NewTurnStarted("id"), expected: KindTurnStarted},
		{name: "assistant thinking", event: NewAssistantThinking("id", "thinking"), expected: KindAssistantThinking},
		{name: "turn completed", event: NewTurnCompleted("id"), expected: KindTurnCompleted},
		{name: "turn failed", event: NewTurnFailed("id", errors.New("boom")), expected: KindTurnFailed},
		{name: "turn cancelled", event: NewTurnCancelled("id"), expected: KindTurnCancelled},
		{name: "assistant output started", event: NewAssistantOutputStarted("speech", "hi", ""), expected: KindAssistantOutputStarted},
		{name: "assistant output ended", event: NewAssistantOutputEnded("speech", OutputEndCompleted), expected: KindAssistantOutputEnded},
		{name: "assistant output failed", event: NewAssistantOutputFailed("playback", errors.New("boom")), expected: KindAssistantOutputFailed},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.Kind(); got != testCase.expected {
				t.Fatalf("expected kind %q, got %q", testCase.expected, got)
			}
			if testCase.event.Timestamp().IsZero() {
				t.Fatalf("expected timestamp to be set")
			}
		})
	}
}

func TestTurnOutcomeKindsAreDistinct(t *testing.T) {
	kinds := map[Kind]bool{}
	for _, event := range []Event{NewTurnCompleted("id"), NewTurnFailed("id", nil), NewTurnCancelled("id")} {
		if kinds[event.Kind()] {
			t.Fatalf("expected distinct turn outcome kinds, %q repeated", event.Kind())
		}
		kinds[event.Kind()] = true
	}
}
