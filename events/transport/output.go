package transport

import "callpilot/core"

// TransportAudioInputEvent carries one inbound audio frame. Seq is the
// transport-assigned frame sequence number; downstream consumers use it to
// reorder late frames instead of dropping them.
type TransportAudioInputEvent struct {
	AudioChunk core.AudioChunk
	Seq        uint64
}

func (e *TransportAudioInputEvent) GetId() string {
	return "transport.audio_input"
}

// TransportAudioOutputEvent carries one synthesized frame toward the caller.
type TransportAudioOutputEvent struct {
	AudioChunk core.AudioChunk
}

func (e *TransportAudioOutputEvent) GetId() string {
	return "transport.audio_output"
}

// TransportConnectedEvent fires on the first confirmed two-way audio frame
// exchange; the session uses it to leave Connecting.
type TransportConnectedEvent struct{}

func (e *TransportConnectedEvent) GetId() string {
	return "transport.connected"
}

// TransportHangupEvent fires when either party hangs up.
type TransportHangupEvent struct {
	Reason string
}

func (e *TransportHangupEvent) GetId() string {
	return "transport.hangup"
}

// TransportDisconnectedEvent fires when the underlying channel drops.
type TransportDisconnectedEvent struct {
	Reason string
}

func (e *TransportDisconnectedEvent) GetId() string {
	return "transport.disconnected"
}
