package playback

import (
	"context"
	"time"

	"github.com/google/uuid"

	"callpilot/core"
	llmevents "callpilot/events/llm"
	playbackevents "callpilot/events/playback"
	ttsevents "callpilot/events/tts"
	vadevents "callpilot/events/vad"
)

// noopService satisfies IService; this handler has no external provider.
type noopService struct{}

func (s *noopService) Initialize(_ context.Context) error { return nil }
func (s *noopService) Cleanup() error                     { return nil }
func (s *noopService) Reset() error                       { return nil }

// PlaybackHandler sits between the synthesizer and the transport output. It
// gates synthesized audio and owns the playback lifecycle:
//
//   - Normal: audio is forwarded immediately; sent duration is tracked and a
//     PlaybackStartedEvent opens a handle for the response.
//   - Suspected interruption: enter suspended mode, cache new audio instead of
//     forwarding it, arm a confirmation timer.
//   - Confirmed interruption: drop the cache, emit PlaybackCancelledEvent with
//     the played/unplayed split so the record can mark the response truncated.
//   - Timer fires unconfirmed (false positive): forward the cached audio and
//     resume as if nothing happened.
type PlaybackHandler struct {
	core.BaseHandler
	config PlaybackConfig

	handleID       string
	responseID     string
	speakingStart  time.Time
	sentDuration   float64 // seconds of audio forwarded to the transport
	playing        bool
	suspended      bool
	cachedChunks   []*core.EventPacket
	confirmTimer   *time.Timer
	falsePositiveC chan struct{}
}

func NewPlaybackHandler(config PlaybackConfig, logger *core.Logger) *PlaybackHandler {
	def := DefaultConfig()
	if config.ConfirmationTimeout == 0 {
		config.ConfirmationTimeout = def.ConfirmationTimeout
	}
	if config.RollbackDuration == 0 {
		config.RollbackDuration = def.RollbackDuration
	}
	return &PlaybackHandler{
		BaseHandler: *core.NewBaseHandler(&noopService{}, logger),
		config:      config,
	}
}

func (h *PlaybackHandler) Initialize(
	inputChan <-chan *core.EventPacket,
	outputNextChan chan<- *core.EventPacket,
	outputTopChan chan<- *core.EventPacket,
	ctx context.Context,
) error {
	h.falsePositiveC = make(chan struct{}, 1)
	return h.BaseHandler.Initialize(inputChan, outputNextChan, outputTopChan, ctx)
}

func (h *PlaybackHandler) Start() error {
	go h.eventLoop()
	return nil
}

func (h *PlaybackHandler) eventLoop() {
	for {
		select {
		case packet := <-h.InputChan:
			h.HandleEvent(packet)
		case <-h.falsePositiveC:
			h.onFalsePositive()
		case <-h.Ctx.Done():
			h.stopConfirmTimer()
			return
		}
	}
}

func (h *PlaybackHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *ttsevents.TTSSpeakingStartedEvent:
		h.handleID = uuid.New().String()
		h.responseID = event.ResponseID
		h.speakingStart = time.Now()
		h.sentDuration = 0
		h.playing = true
		h.SendPacket(packet)
		h.SendPacket(core.NewEventPacket(&playbackevents.PlaybackStartedEvent{
			HandleID:   h.handleID,
			ResponseID: h.responseID,
		}, core.EventRelayDestinationTopService, "PlaybackHandler"))

	case *ttsevents.TTSSpeakingEndedEvent:
		h.SendPacket(packet)
		if h.playing {
			h.playing = false
			h.SendPacket(core.NewEventPacket(&playbackevents.PlaybackFinishedEvent{
				HandleID:   h.handleID,
				ResponseID: h.responseID,
				Played:     secondsToDuration(h.sentDuration),
			}, core.EventRelayDestinationTopService, "PlaybackHandler"))
		}

	case *llmevents.LLMResponseStartedEvent:
		// New response starting; stale cached audio from the previous
		// turn must not leak into it.
		h.cachedChunks = nil
		h.speakingStart = time.Time{}
		h.sentDuration = 0
		h.SendPacket(packet)

	case *ttsevents.TTSOutputEvent:
		if h.suspended {
			h.cachedChunks = append(h.cachedChunks, packet)
		} else {
			h.sentDuration += event.AudioChunk.GetDurationInSeconds()
			h.SendPacket(packet)
		}

	case *vadevents.VADInterruptionSuspectedEvent:
		if !h.suspended && h.playing {
			h.suspended = true
			h.startConfirmTimer()
		}
		h.SendPacket(packet)

	case *vadevents.VADInterruptionConfirmedEvent:
		h.onConfirmed(packet)

	default:
		h.SendPacket(packet)
	}
	return nil
}

func (h *PlaybackHandler) onConfirmed(packet *core.EventPacket) {
	h.stopConfirmTimer()
	if !h.playing && !h.suspended {
		h.SendPacket(packet)
		return
	}

	var approxPlayed float64
	if !h.speakingStart.IsZero() {
		approxPlayed = time.Since(h.speakingStart).Seconds() - h.config.RollbackDuration.Seconds()
		if approxPlayed < 0 {
			approxPlayed = 0
		}
	}
	if approxPlayed > h.sentDuration {
		approxPlayed = h.sentDuration
	}
	unplayed := h.sentDuration - approxPlayed

	h.Logger.With(map[string]any{
		"approx_played_s": approxPlayed,
		"total_sent_s":    h.sentDuration,
		"unplayed_s":      unplayed,
	}).Info("Playback: interruption confirmed, dropping cached audio")

	cancelled := &playbackevents.PlaybackCancelledEvent{
		HandleID:   h.handleID,
		ResponseID: h.responseID,
		Played:     secondsToDuration(approxPlayed),
		Unplayed:   secondsToDuration(unplayed),
	}

	h.cachedChunks = nil
	h.suspended = false
	h.playing = false
	h.sentDuration = 0
	h.speakingStart = time.Time{}

	h.SendPacket(packet)
	h.SendPacket(core.NewEventPacket(cancelled, core.EventRelayDestinationTopService, "PlaybackHandler"))
}

func (h *PlaybackHandler) startConfirmTimer() {
	h.confirmTimer = time.AfterFunc(h.config.ConfirmationTimeout, func() {
		select {
		case h.falsePositiveC <- struct{}{}:
		default:
		}
	})
}

func (h *PlaybackHandler) stopConfirmTimer() {
	if h.confirmTimer != nil {
		h.confirmTimer.Stop()
		h.confirmTimer = nil
	}
}

// onFalsePositive resumes forwarding the cached audio chunks and exits
// suspended mode.
func (h *PlaybackHandler) onFalsePositive() {
	if !h.suspended {
		return
	}
	chunks := h.cachedChunks
	h.cachedChunks = nil
	h.suspended = false

	h.Logger.With(map[string]any{
		"cached_chunks": len(chunks),
	}).Info("Playback: false positive interruption, resuming cached audio")

	for _, pkt := range chunks {
		if ev, ok := pkt.Event.(*ttsevents.TTSOutputEvent); ok {
			h.sentDuration += ev.AudioChunk.GetDurationInSeconds()
		}
		h.SendPacket(pkt)
	}
}

func (h *PlaybackHandler) Cleanup() error {
	h.stopConfirmTimer()
	return h.BaseHandler.Cleanup()
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
