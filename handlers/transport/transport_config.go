package transport

import "callpilot/core"

// SerializerService translates between the wire representation of a transport
// and the internal audio/signal types. Signals are transport-level control
// messages ("hangup", peer metadata); audio and signal are mutually exclusive
// per frame.
type SerializerService interface {
	Deserialize(data core.RawData) (core.AudioChunk, Signal, error)
	SerializeAudioOutput(audioChunk core.AudioChunk) (core.RawData, error)
	SerializeSignalOutput(signal Signal) (core.RawData, error)
}

// Signal is a decoded transport control message.
type Signal struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

const (
	SignalNone   = ""
	SignalHangup = "hangup"
)

type TransportConfig struct {
	Serializer     SerializerService
	OutSampleRate  int
	OutChannels    int
	OutAudioFormat core.AudioEncodingFormat
}
