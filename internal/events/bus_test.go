package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()

	received := make(chan ReceiverSignalEvent, 1)
	unsub := Subscribe(bus, func(e ReceiverSignalEvent) {
		received <- e
	})
	defer unsub()

	Publish(bus, ReceiverSignalEvent{Namespace: "urn:x-cast:test", Kind: "start"})

	select {
	case e := <-received:
		if e.Kind != "start" {
			t.Errorf("expected kind 'start', got %q", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestSubscribeOnlyMatchingType(t *testing.T) {
	bus := New()

	received := make(chan SessionStateChangedEvent, 2)
	unsub := Subscribe(bus, func(e SessionStateChangedEvent) {
		received <- e
	})
	defer unsub()

	Publish(bus, ReceiverSignalEvent{Kind: "start"})
	Publish(bus, SessionStateChangedEvent{State: "streaming"})

	select {
	case e := <-received:
		if e.State != "streaming" {
			t.Errorf("expected state 'streaming', got %q", e.State)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestSubscribeToChannelDropsWhenFull(t *testing.T) {
	bus := New()

	ch := make(chan any, 1)
	unsub := SubscribeToChannel[EncoderSelectedEvent](bus, ch)
	defer unsub()

	Publish(bus, EncoderSelectedEvent{Backend: "vaapi"})
	Publish(bus, EncoderSelectedEvent{Backend: "cuda"})

	// One event fits the buffer, the second is dropped; neither publish blocks.
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for buffered event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()

	received := make(chan PlaybackStartedEvent, 1)
	unsub := Subscribe(bus, func(e PlaybackStartedEvent) {
		received <- e
	})
	unsub()

	Publish(bus, PlaybackStartedEvent{Device: "Living Room"})

	select {
	case <-received:
		t.Error("received event after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}
