package main

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	orchestration "github.com/koscakluka/ema-dialog/core"
	"github.com/koscakluka/ema-dialog/core/events"
)

type eventMsg struct{ event events.Event }

type frameMsg orchestration.VisualizerFrame

// bridge hands orchestrator callbacks to the UI without blocking the
// goroutine that produced them. Events are queued in order; frames are
// coalesced so only the latest is delivered.
type bridge struct {
	mu      sync.Mutex
	pending []tea.Msg
	frame   *orchestration.VisualizerFrame
	notify  chan struct{}
}

func newBridge() *bridge {
	return &bridge{notify: make(chan struct{}, 1)}
}

func (b *bridge) HandleEvent(event events.Event) {
	b.mu.Lock()
	b.pending = append(b.pending, eventMsg{event: event})
	b.mu.Unlock()
	b.wake()
}

func (b *bridge) HandleFrame(frame orchestration.VisualizerFrame) {
	b.mu.Lock()
	b.frame = &frame
	b.mu.Unlock()
	b.wake()
}

func (b *bridge) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Forward delivers queued messages to send until ctx is done.
func (b *bridge) Forward(ctx context.Context, send func(tea.Msg)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.notify:
		}

		b.mu.Lock()
		msgs, frame := b.pending, b.frame
		b.pending, b.frame = nil, nil
		b.mu.Unlock()

		for _, msg := range msgs {
			send(msg)
		}
		if frame != nil {
			send(frameMsg(*frame))
		}
	}
}
