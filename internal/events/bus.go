package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher for in-process event broadcasting.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish publishes an event to all subscribers of its type.
// Usage: events.Publish(bus, SessionStateChangedEvent{...})
func Publish[T Event](b *Bus, ev T) {
	event.Publish(b.dispatcher, ev)
}

// Subscribe registers a handler for events of type T.
// Returns an unsubscribe function.
// Usage: unsub := events.Subscribe(bus, func(e ReceiverSignalEvent) { ... })
func Subscribe[T Event](b *Bus, handler func(T)) func() {
	return event.Subscribe(b.dispatcher, handler)
}

// SubscribeToChannel forwards events of type T to the given channel.
// Events are dropped when the channel is full so a slow consumer never
// blocks the dispatcher. Returns an unsubscribe function.
func SubscribeToChannel[T Event](b *Bus, ch chan<- any) func() {
	return event.Subscribe(b.dispatcher, func(ev T) {
		select {
		case ch <- ev:
		default:
		}
	})
}
