// Package conversation holds the dialog history: an append-only, ordered
// record of completed turns.
package conversation

import (
	"slices"
	"sync"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single completed utterance in the conversation. Turns are values
// and never change once appended.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func UserTurn(content string) Turn      { return Turn{Role: RoleUser, Content: content} }
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// History is safe for concurrent use. Turns are kept in the order they were
// appended; there is no way to change or remove one.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

func (h *History) Append(turn Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turn)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Turns returns a copy of all turns, oldest first.
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.turns)
}

// Window returns a copy of the last n turns, oldest first. n <= 0 means the
// whole history.
func (h *History) Window(n int) []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n >= len(h.turns) {
		return slices.Clone(h.turns)
	}
	return slices.Clone(h.turns[len(h.turns)-n:])
}

// Values is an iterator that goes over all the stored turns starting from the
// earliest towards the latest
func (h *History) Values(yield func(Turn) bool) {
	for _, turn := range h.Turns() {
		if !yield(turn) {
			return
		}
	}
}

// RValues is an iterator that goes over all the stored turns starting from
// the latest towards the earliest
func (h *History) RValues(yield func(Turn) bool) {
	for _, turn := range slices.Backward(h.Turns()) {
		if !yield(turn) {
			return
		}
	}
}
