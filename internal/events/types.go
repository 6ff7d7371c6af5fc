package events

// Event type constants for kelindar/event.
const (
	TypeSessionStateChanged uint32 = iota + 1
	TypeReceiverSignal
	TypePlaybackStarted
	TypeEncoderSelected
	TypeEncoderRestarted
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionStateChangedEvent is published on every session state transition.
type SessionStateChangedEvent struct {
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for SessionStateChangedEvent.
func (e SessionStateChangedEvent) Type() uint32 { return TypeSessionStateChanged }

// ReceiverSignalEvent is published when the receiver application sends a
// recognized message on the session namespace.
type ReceiverSignalEvent struct {
	Namespace string `json:"namespace"`
	Kind      string `json:"kind"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for ReceiverSignalEvent.
func (e ReceiverSignalEvent) Type() uint32 { return TypeReceiverSignal }

// PlaybackStartedEvent is published once the device reports active playback.
type PlaybackStartedEvent struct {
	Device    string `json:"device"`
	StreamURL string `json:"stream_url"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for PlaybackStartedEvent.
func (e PlaybackStartedEvent) Type() uint32 { return TypePlaybackStarted }

// EncoderSelectedEvent reports the outcome of backend probing.
type EncoderSelectedEvent struct {
	Backend   string `json:"backend"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for EncoderSelectedEvent.
func (e EncoderSelectedEvent) Type() uint32 { return TypeEncoderSelected }

// EncoderRestartedEvent is published when a config reload replaces the
// running encode process.
type EncoderRestartedEvent struct {
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for EncoderRestartedEvent.
func (e EncoderRestartedEvent) Type() uint32 { return TypeEncoderRestarted }
