package turn

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"callpilot/core"
	playbackevents "callpilot/events/playback"
	sttevents "callpilot/events/stt"
	transportevents "callpilot/events/transport"
	turnevents "callpilot/events/turn"
	vadevents "callpilot/events/vad"
)

// detectorState is the per-speaker endpointing state machine.
type detectorState int

const (
	stateListening    detectorState = iota // No open utterance, ready for speech.
	stateAccumulating                      // Utterance open, speech or short silence.
	stateFinalizing                        // Endpoint reached, awaiting final transcript.
	stateIdle                              // Turn handed off, conversation cycle in flight.
)

// TurnHandler decides when a human utterance is complete enough to hand to
// the language model. It consumes VAD boundaries and partial transcripts,
// applies the endpointing delay and minimum-word heuristics, and emits the
// immutable finalized Utterance. All state is owned by the event loop
// goroutine; at most one human utterance is open at any instant.
type TurnHandler struct {
	core.BaseHandler
	config TurnConfig

	state       detectorState
	utteranceID string
	startedAt   time.Time
	speechEndAt time.Time
	lastInterim string

	assistantSpeaking bool
	suspected         bool
	confirmed         bool
	holdFinalize      bool

	endpointTimer *time.Timer
	finalizeTimer *time.Timer
	endpointCh    chan struct{}
	finalizeCh    chan struct{}
}

func NewTurnHandler(config TurnConfig, logger *core.Logger) *TurnHandler {
	def := DefaultConfig()
	if config.EndpointingDelay == 0 {
		config.EndpointingDelay = def.EndpointingDelay
	}
	if config.InterruptSpeechDuration == 0 {
		config.InterruptSpeechDuration = def.InterruptSpeechDuration
	}
	if config.FinalizeTimeout == 0 {
		config.FinalizeTimeout = def.FinalizeTimeout
	}
	return &TurnHandler{
		BaseHandler: *core.NewBaseHandler(nil, logger),
		config:      config,
	}
}

func (h *TurnHandler) Initialize(
	inputChan <-chan *core.EventPacket,
	outputNextChan chan<- *core.EventPacket,
	outputTopChan chan<- *core.EventPacket,
	ctx context.Context,
) error {
	h.endpointCh = make(chan struct{}, 1)
	h.finalizeCh = make(chan struct{}, 1)
	return h.BaseHandler.Initialize(inputChan, outputNextChan, outputTopChan, ctx)
}

func (h *TurnHandler) Start() error {
	go h.eventLoop()
	return nil
}

func (h *TurnHandler) eventLoop() {
	for {
		select {
		case packet := <-h.InputChan:
			h.HandleEvent(packet)
		case <-h.endpointCh:
			h.onEndpointElapsed()
		case <-h.finalizeCh:
			h.onFinalizeTimeout()
		case <-h.Ctx.Done():
			h.stopTimers()
			return
		}
	}
}

func (h *TurnHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *vadevents.VADSpeechStartedEvent:
		h.onSpeechStarted()

	case *vadevents.VADSpeechEndedEvent:
		h.onSpeechEnded()

	case *vadevents.VADSpeechChunkEvent:
		h.maybeConfirmInterruption()

	case *sttevents.STTInterimOutputEvent:
		if h.state == stateAccumulating || h.state == stateFinalizing {
			h.lastInterim = event.Text
		}
		h.maybeConfirmInterruption()

	case *sttevents.STTFinalOutputEvent:
		h.onFinalTranscript(event.Text, event.Confidence)

	case *playbackevents.PlaybackStartedEvent:
		h.assistantSpeaking = true

	case *playbackevents.PlaybackFinishedEvent, *playbackevents.PlaybackCancelledEvent:
		h.assistantSpeaking = false
		h.suspected = false
		h.confirmed = false
		if h.state == stateIdle {
			h.state = stateListening
		}
		// Speech that was buffered during no-interruption playback may
		// finalize now.
		if h.holdFinalize {
			h.holdFinalize = false
			h.beginFinalizing()
		}

	case *transportevents.TransportHangupEvent:
		h.finalizeOpenUtterance(core.ReasonExplicitStop)

	case *core.EndCallEvent:
		h.finalizeOpenUtterance(core.ReasonExplicitStop)
	}

	h.SendPacket(packet)
	return nil
}

func (h *TurnHandler) onSpeechStarted() {
	switch h.state {
	case stateListening, stateIdle:
		h.state = stateAccumulating
		h.utteranceID = uuid.New().String()
		h.startedAt = time.Now()
		h.lastInterim = ""
		h.suspected = h.assistantSpeaking && h.config.AllowInterruptions
		h.confirmed = false
		h.SendPacket(core.NewEventPacket(
			&turnevents.TurnUtteranceStartedEvent{UtteranceID: h.utteranceID},
			core.EventRelayDestinationNextService, "TurnHandler",
		))
		h.maybeConfirmInterruption()
	case stateAccumulating:
		// Speech resumed before the endpointing delay elapsed: same utterance.
		h.stopEndpointTimer()
	}
}

func (h *TurnHandler) onSpeechEnded() {
	if h.state != stateAccumulating {
		return
	}
	h.speechEndAt = time.Now()
	h.stopEndpointTimer()
	h.endpointTimer = time.AfterFunc(h.config.EndpointingDelay, func() {
		select {
		case h.endpointCh <- struct{}{}:
		default:
		}
	})
}

func (h *TurnHandler) onEndpointElapsed() {
	if h.state != stateAccumulating {
		return
	}
	if wordCount(h.lastInterim) < h.config.MinWords {
		// Not enough speech yet; keep the utterance open.
		return
	}
	if h.assistantSpeaking && !h.config.AllowInterruptions {
		// Buffered speech must wait until playback ends.
		h.holdFinalize = true
		return
	}
	h.beginFinalizing()
}

func (h *TurnHandler) beginFinalizing() {
	if h.state != stateAccumulating {
		return
	}
	h.state = stateFinalizing
	h.SendPacket(core.NewEventPacket(
		&sttevents.STTFinalizeRequestEvent{},
		core.EventRelayDestinationTopService, "TurnHandler",
	))
	h.finalizeTimer = time.AfterFunc(h.config.FinalizeTimeout, func() {
		select {
		case h.finalizeCh <- struct{}{}:
		default:
		}
	})
}

func (h *TurnHandler) onFinalTranscript(text string, confidence float64) {
	switch h.state {
	case stateFinalizing:
		h.stopFinalizeTimer()
		h.emitUtterance(text, confidence, core.ReasonSilenceTimeout)
	case stateAccumulating:
		// The engine endpointed on its own (e.g. provider-side endpointing).
		h.stopEndpointTimer()
		h.emitUtterance(text, confidence, core.ReasonSilenceTimeout)
	}
}

// onFinalizeTimeout falls back to the last interim transcript when the final
// one does not arrive in time. A missing transcript is a provider hiccup, not
// a reason to lose the turn.
func (h *TurnHandler) onFinalizeTimeout() {
	if h.state != stateFinalizing {
		return
	}
	h.Logger.Warn("final transcript timed out, using last interim")
	h.emitUtterance(h.lastInterim, 0, core.ReasonSilenceTimeout)
}

// finalizeOpenUtterance closes whatever is open right now, using whatever
// transcript exists. Used on hang-up so the record keeps the partial turn.
func (h *TurnHandler) finalizeOpenUtterance(reason core.CompletionReason) {
	if h.state != stateAccumulating && h.state != stateFinalizing {
		return
	}
	h.stopTimers()
	if strings.TrimSpace(h.lastInterim) == "" {
		h.reset()
		return
	}
	h.emitUtterance(h.lastInterim, 0, reason)
}

func (h *TurnHandler) emitUtterance(text string, confidence float64, reason core.CompletionReason) {
	endedAt := h.speechEndAt
	if endedAt.IsZero() {
		endedAt = time.Now()
	}
	utterance := core.Utterance{
		ID:         h.utteranceID,
		Speaker:    core.SpeakerHuman,
		Text:       strings.TrimSpace(text),
		Confidence: confidence,
		StartedAt:  h.startedAt,
		EndedAt:    endedAt,
		Reason:     reason,
	}
	h.reset()
	if utterance.Text == "" {
		// Nothing transcribed; don't wake the model for an empty turn.
		return
	}
	h.SendPacket(core.NewEventPacket(
		&turnevents.TurnUtteranceFinalizedEvent{Utterance: utterance},
		core.EventRelayDestinationNextService, "TurnHandler",
	))
}

// maybeConfirmInterruption promotes a suspected barge-in once the overlapping
// speech meets the policy thresholds.
func (h *TurnHandler) maybeConfirmInterruption() {
	if !h.suspected || h.confirmed || h.state != stateAccumulating {
		return
	}
	if time.Since(h.startedAt) < h.config.InterruptSpeechDuration {
		return
	}
	if wordCount(h.lastInterim) < h.config.InterruptMinWords {
		return
	}
	h.confirmed = true
	h.SendPacket(core.NewEventPacket(
		&vadevents.VADInterruptionConfirmedEvent{},
		core.EventRelayDestinationTopService, "TurnHandler",
	))
}

func (h *TurnHandler) reset() {
	h.state = stateIdle
	h.utteranceID = ""
	h.lastInterim = ""
	h.speechEndAt = time.Time{}
	h.suspected = false
	h.confirmed = false
	h.holdFinalize = false
	h.stopTimers()
}

func (h *TurnHandler) stopTimers() {
	h.stopEndpointTimer()
	h.stopFinalizeTimer()
}

func (h *TurnHandler) stopEndpointTimer() {
	if h.endpointTimer != nil {
		h.endpointTimer.Stop()
		h.endpointTimer = nil
	}
}

func (h *TurnHandler) stopFinalizeTimer() {
	if h.finalizeTimer != nil {
		h.finalizeTimer.Stop()
		h.finalizeTimer = nil
	}
}

func wordCount(text string) int {
	return len(strings.Fields(strings.TrimSpace(text)))
}
