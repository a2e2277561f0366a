package core

import "github.com/google/uuid"

// IEvent is implemented by every event flowing through a session pipeline.
type IEvent interface {
	GetId() string // Returns the stable identifier of the event type.
}

// EventRelayDestination controls where a handler relays a packet.
type EventRelayDestination int

const (
	EventRelayDestinationNextService EventRelayDestination = iota + 1 // Pass to the next handler in the pipeline.
	EventRelayDestinationTopService                                   // Broadcast from the pipeline top so every handler observes it.
)

// EventPacket wraps an event with routing metadata.
type EventPacket struct {
	Event       IEvent
	Destination EventRelayDestination
	Uid         string // Unique identifier for tracking the packet.
	Relayer     string // Identifier of the handler that relayed the event.
}

func NewEventPacket(event IEvent, destination EventRelayDestination, relayer string) *EventPacket {
	return &EventPacket{
		Event:       event,
		Destination: destination,
		Uid:         uuid.New().String(),
		Relayer:     relayer,
	}
}
