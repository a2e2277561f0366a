package vad

import (
	"context"

	"callpilot/core"
	playbackevents "callpilot/events/playback"
	transportevents "callpilot/events/transport"
	vadevents "callpilot/events/vad"
)

// VADService classifies audio frames as speech or silence.
type VADService interface {
	core.IService
	// ObserveFrame must return within one frame period; it never blocks on I/O.
	ObserveFrame(chunk core.AudioChunk) (speech bool, changed bool, err error)
}

// VADHandler drives the VAD service over the inbound frame stream and turns
// frame classifications into speech started/ended events. It also raises the
// interruption-suspected signal when speech begins during assistant playback.
type VADHandler struct {
	core.BaseHandler
	config VADConfig

	assistantSpeaking bool
}

func NewVADHandler(service VADService, config VADConfig, logger *core.Logger) *VADHandler {
	return &VADHandler{
		BaseHandler: *core.NewBaseHandler(service, logger),
		config:      config,
	}
}

func (h *VADHandler) Initialize(
	inputChan <-chan *core.EventPacket,
	outputNextChan chan<- *core.EventPacket,
	outputTopChan chan<- *core.EventPacket,
	ctx context.Context,
) error {
	return h.BaseHandler.Initialize(inputChan, outputNextChan, outputTopChan, ctx)
}

func (h *VADHandler) Start() error {
	go h.eventLoop()
	return nil
}

func (h *VADHandler) eventLoop() {
	for {
		select {
		case packet := <-h.InputChan:
			h.HandleEvent(packet)
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *VADHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *transportevents.TransportAudioInputEvent:
		h.observe(event.AudioChunk)
		// The raw frame still travels downstream so STT can buffer it.
		h.SendPacket(packet)
		return nil

	case *playbackevents.PlaybackStartedEvent:
		h.assistantSpeaking = true
	case *playbackevents.PlaybackFinishedEvent:
		h.assistantSpeaking = false
	case *playbackevents.PlaybackCancelledEvent:
		h.assistantSpeaking = false
	}
	h.SendPacket(packet)
	return nil
}

func (h *VADHandler) observe(chunk core.AudioChunk) {
	speech, changed, err := h.Service.(VADService).ObserveFrame(chunk)
	if err != nil {
		h.HandleError(err)
		return
	}

	if changed {
		if speech {
			h.SendPacket(core.NewEventPacket(
				&vadevents.VADSpeechStartedEvent{},
				core.EventRelayDestinationNextService, "VADHandler",
			))
			// Barge-in takes priority over endpointing precision: suspend
			// playback immediately, confirmation comes from the turn detector.
			if h.assistantSpeaking && h.config.AllowInterruptions {
				h.SendPacket(core.NewEventPacket(
					&vadevents.VADInterruptionSuspectedEvent{},
					core.EventRelayDestinationTopService, "VADHandler",
				))
			}
		} else {
			h.SendPacket(core.NewEventPacket(
				&vadevents.VADSpeechEndedEvent{},
				core.EventRelayDestinationNextService, "VADHandler",
			))
		}
	}

	if speech {
		h.SendPacket(core.NewEventPacket(
			&vadevents.VADSpeechChunkEvent{AudioChunk: chunk},
			core.EventRelayDestinationNextService, "VADHandler",
		))
	} else {
		h.SendPacket(core.NewEventPacket(
			&vadevents.VADSilenceChunkEvent{AudioChunk: chunk},
			core.EventRelayDestinationNextService, "VADHandler",
		))
	}
}
