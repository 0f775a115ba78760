package orchestration

import "github.com/koscakluka/ema-dialog/core/events"

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

// EventHandler receives every event the orchestrator publishes. It is called
// from whichever goroutine produced the event and must not block.
type EventHandler func(events.Event)

func newFanOutEmitter(handlers []EventHandler) eventEmitter {
	if len(handlers) == 0 {
		return noopEventEmitter
	}

	return func(event events.Event) {
		for _, handler := range handlers {
			handler(event)
		}
	}
}
