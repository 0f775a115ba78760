// Package events defines the typed dialog event contract published by the
// orchestrator to its renderer.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - user_input.*
//   - recognition.*
//   - transcript.*
//   - turn_state.*
//   - assistant_output.*
//
// Semantics used across the package:
//
//   - Updated: mutable point-in-time snapshot that can change over time.
//   - Final: terminal immutable text for the current utterance.
//   - Changed: a state transition; the event carries the new state.
//
// user_input events
//
//   - UserBargeIn (user_input.barge_in): the user started speaking; anything
//     audible has been stopped.
//   - UserTranscriptInterimUpdated (user_input.transcript_interim_updated):
//     mutable interim transcript snapshot.
//   - UserTranscriptFinal (user_input.transcript_final): terminal, trimmed,
//     non-empty transcript handed to the dialog.
//
// recognition events
//
//   - RecognitionStateChanged (recognition.state_changed): idle, listening or
//     muted.
//   - RecognitionFailed (recognition.failed): recognizer error; Fatal errors
//     need the user to start listening again.
//
// transcript events
//
//   - TranscriptAppended (transcript.appended): a turn was appended to the
//     conversation history.
//   - InputAvailabilityChanged (transcript.input_availability_changed): typed
//     input was enabled or disabled.
//
// turn_state events
//
//   - TurnStarted (turn_state.started): a turn request was sent.
//   - AssistantThinking (turn_state.thinking): the backend is slow and the
//     thinking filler was spoken.
//   - TurnCompleted (turn_state.completed): the reply was received.
//   - TurnFailed (turn_state.failed): the request failed; the apology was
//     appended.
//   - TurnCancelled (turn_state.cancelled): the turn was superseded.
//
// assistant_output events
//
//   - AssistantOutputStarted (assistant_output.started): speech or playback
//     became audible.
//   - AssistantOutputEnded (assistant_output.ended): the audible output ended,
//     with the reason.
//   - AssistantOutputFailed (assistant_output.failed): synthesis or playback
//     failed.
package events
