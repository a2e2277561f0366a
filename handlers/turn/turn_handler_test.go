package turn

import (
	"context"
	"testing"
	"time"

	"callpilot/core"
	playbackevents "callpilot/events/playback"
	sttevents "callpilot/events/stt"
	transportevents "callpilot/events/transport"
	turnevents "callpilot/events/turn"
	vadevents "callpilot/events/vad"
)

type turnHarness struct {
	handler *TurnHandler
	in      chan *core.EventPacket
	next    chan *core.EventPacket
	top     chan *core.EventPacket
	cancel  context.CancelFunc
}

func newTurnHarness(t *testing.T, config TurnConfig) *turnHarness {
	t.Helper()
	h := &turnHarness{
		handler: NewTurnHandler(config, core.GetLogger()),
		in:      make(chan *core.EventPacket, 100),
		next:    make(chan *core.EventPacket, 100),
		top:     make(chan *core.EventPacket, 100),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	if err := h.handler.Initialize(h.in, h.next, h.top, ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := h.handler.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(cancel)
	return h
}

func (h *turnHarness) send(event core.IEvent) {
	h.in <- core.NewEventPacket(event, core.EventRelayDestinationNextService, "test")
}

// waitFor drains the channel until a packet matching the predicate shows up.
func waitFor(t *testing.T, ch chan *core.EventPacket, timeout time.Duration, match func(core.IEvent) bool) core.IEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case packet := <-ch:
			if match(packet.Event) {
				return packet.Event
			}
		case <-deadline:
			t.Fatalf("expected event did not arrive within %v", timeout)
			return nil
		}
	}
}

// expectNone asserts no matching packet arrives within the window.
func expectNone(t *testing.T, ch chan *core.EventPacket, window time.Duration, match func(core.IEvent) bool) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case packet := <-ch:
			if match(packet.Event) {
				t.Fatalf("unexpected event %T", packet.Event)
			}
		case <-deadline:
			return
		}
	}
}

func isFinalized(e core.IEvent) bool {
	_, ok := e.(*turnevents.TurnUtteranceFinalizedEvent)
	return ok
}

func isFinalizeRequest(e core.IEvent) bool {
	_, ok := e.(*sttevents.STTFinalizeRequestEvent)
	return ok
}

func TestEndpointingDelayFinalizesUtterance(t *testing.T) {
	h := newTurnHarness(t, TurnConfig{
		EndpointingDelay:   80 * time.Millisecond,
		AllowInterruptions: true,
	})

	h.send(&vadevents.VADSpeechStartedEvent{})
	h.send(&sttevents.STTInterimOutputEvent{Text: "hello there"})
	h.send(&vadevents.VADSpeechEndedEvent{})

	waitFor(t, h.top, time.Second, isFinalizeRequest)
	h.send(&sttevents.STTFinalOutputEvent{Text: "hello there", Confidence: 0.93})

	event := waitFor(t, h.next, time.Second, isFinalized)
	utterance := event.(*turnevents.TurnUtteranceFinalizedEvent).Utterance
	if utterance.Text != "hello there" {
		t.Fatalf("utterance text = %q, want %q", utterance.Text, "hello there")
	}
	if utterance.Speaker != core.SpeakerHuman {
		t.Fatalf("speaker = %q, want human", utterance.Speaker)
	}
	if utterance.Reason != core.ReasonSilenceTimeout {
		t.Fatalf("reason = %q, want silence-timeout", utterance.Reason)
	}
	if utterance.Confidence != 0.93 {
		t.Fatalf("confidence = %v", utterance.Confidence)
	}
	if utterance.EndedAt.Before(utterance.StartedAt) {
		t.Fatalf("EndedAt %v before StartedAt %v", utterance.EndedAt, utterance.StartedAt)
	}
}

func TestSpeechResumeKeepsUtteranceOpen(t *testing.T) {
	h := newTurnHarness(t, TurnConfig{
		EndpointingDelay:   120 * time.Millisecond,
		AllowInterruptions: true,
	})

	h.send(&vadevents.VADSpeechStartedEvent{})
	h.send(&sttevents.STTInterimOutputEvent{Text: "so I was"})
	h.send(&vadevents.VADSpeechEndedEvent{})

	// Resume well inside the endpointing delay: the pause is part of the
	// same utterance.
	time.Sleep(40 * time.Millisecond)
	h.send(&vadevents.VADSpeechStartedEvent{})

	expectNone(t, h.top, 200*time.Millisecond, isFinalizeRequest)

	h.send(&sttevents.STTInterimOutputEvent{Text: "so I was thinking"})
	h.send(&vadevents.VADSpeechEndedEvent{})
	waitFor(t, h.top, time.Second, isFinalizeRequest)

	h.send(&sttevents.STTFinalOutputEvent{Text: "so I was thinking", Confidence: 0.9})
	event := waitFor(t, h.next, time.Second, isFinalized)
	utterance := event.(*turnevents.TurnUtteranceFinalizedEvent).Utterance
	if utterance.Text != "so I was thinking" {
		t.Fatalf("utterance text = %q", utterance.Text)
	}
}

func TestFinalizeTimeoutFallsBackToInterim(t *testing.T) {
	h := newTurnHarness(t, TurnConfig{
		EndpointingDelay:   40 * time.Millisecond,
		FinalizeTimeout:    60 * time.Millisecond,
		AllowInterruptions: true,
	})

	h.send(&vadevents.VADSpeechStartedEvent{})
	h.send(&sttevents.STTInterimOutputEvent{Text: "use the interim"})
	h.send(&vadevents.VADSpeechEndedEvent{})

	waitFor(t, h.top, time.Second, isFinalizeRequest)
	// No final transcript arrives.
	event := waitFor(t, h.next, time.Second, isFinalized)
	utterance := event.(*turnevents.TurnUtteranceFinalizedEvent).Utterance
	if utterance.Text != "use the interim" {
		t.Fatalf("utterance text = %q, want interim fallback", utterance.Text)
	}
}

func TestMinWordsKeepsShortSpeechOpen(t *testing.T) {
	h := newTurnHarness(t, TurnConfig{
		EndpointingDelay:   40 * time.Millisecond,
		MinWords:           3,
		AllowInterruptions: true,
	})

	h.send(&vadevents.VADSpeechStartedEvent{})
	h.send(&sttevents.STTInterimOutputEvent{Text: "um"})
	h.send(&vadevents.VADSpeechEndedEvent{})

	expectNone(t, h.top, 150*time.Millisecond, isFinalizeRequest)
}

func TestEmptyTranscriptIsDropped(t *testing.T) {
	h := newTurnHarness(t, TurnConfig{
		EndpointingDelay:   40 * time.Millisecond,
		AllowInterruptions: true,
	})

	h.send(&vadevents.VADSpeechStartedEvent{})
	h.send(&vadevents.VADSpeechEndedEvent{})

	waitFor(t, h.top, time.Second, isFinalizeRequest)
	h.send(&sttevents.STTFinalOutputEvent{Text: "   ", Confidence: 0})

	expectNone(t, h.next, 150*time.Millisecond, isFinalized)
}

func TestHangupFinalizesPartialTurn(t *testing.T) {
	h := newTurnHarness(t, TurnConfig{
		EndpointingDelay:   time.Second,
		AllowInterruptions: true,
	})

	h.send(&vadevents.VADSpeechStartedEvent{})
	h.send(&sttevents.STTInterimOutputEvent{Text: "please call me back"})
	h.send(&transportevents.TransportHangupEvent{Reason: "caller hung up"})

	event := waitFor(t, h.next, time.Second, isFinalized)
	utterance := event.(*turnevents.TurnUtteranceFinalizedEvent).Utterance
	if utterance.Text != "please call me back" {
		t.Fatalf("utterance text = %q", utterance.Text)
	}
	if utterance.Reason != core.ReasonExplicitStop {
		t.Fatalf("reason = %q, want explicit-stop", utterance.Reason)
	}
}

func TestBargeInConfirmedAfterThresholds(t *testing.T) {
	h := newTurnHarness(t, TurnConfig{
		EndpointingDelay:        200 * time.Millisecond,
		AllowInterruptions:      true,
		InterruptSpeechDuration: 30 * time.Millisecond,
		InterruptMinWords:       2,
	})

	h.send(&playbackevents.PlaybackStartedEvent{HandleID: "h1", ResponseID: "r1"})
	h.send(&vadevents.VADSpeechStartedEvent{})
	h.send(&sttevents.STTInterimOutputEvent{Text: "wait stop"})

	// Once the overlap outlasts the duration threshold, the next speech
	// activity confirms the barge-in.
	time.Sleep(50 * time.Millisecond)
	h.send(&vadevents.VADSpeechChunkEvent{})

	waitFor(t, h.top, time.Second, func(e core.IEvent) bool {
		_, ok := e.(*vadevents.VADInterruptionConfirmedEvent)
		return ok
	})
}

func TestBargeInNotConfirmedBelowWordThreshold(t *testing.T) {
	h := newTurnHarness(t, TurnConfig{
		EndpointingDelay:        200 * time.Millisecond,
		AllowInterruptions:      true,
		InterruptSpeechDuration: 10 * time.Millisecond,
		InterruptMinWords:       3,
	})

	h.send(&playbackevents.PlaybackStartedEvent{HandleID: "h1", ResponseID: "r1"})
	h.send(&vadevents.VADSpeechStartedEvent{})
	h.send(&sttevents.STTInterimOutputEvent{Text: "uh"})
	time.Sleep(30 * time.Millisecond)
	h.send(&vadevents.VADSpeechChunkEvent{})

	expectNone(t, h.top, 100*time.Millisecond, func(e core.IEvent) bool {
		_, ok := e.(*vadevents.VADInterruptionConfirmedEvent)
		return ok
	})
}

func TestBufferedSpeechWaitsForPlaybackWhenInterruptionsDisabled(t *testing.T) {
	h := newTurnHarness(t, TurnConfig{
		EndpointingDelay:   40 * time.Millisecond,
		AllowInterruptions: false,
	})

	h.send(&playbackevents.PlaybackStartedEvent{HandleID: "h1", ResponseID: "r1"})
	h.send(&vadevents.VADSpeechStartedEvent{})
	h.send(&sttevents.STTInterimOutputEvent{Text: "one more thing"})
	h.send(&vadevents.VADSpeechEndedEvent{})

	// Endpoint elapses during playback; finalization is held back.
	expectNone(t, h.top, 150*time.Millisecond, isFinalizeRequest)

	h.send(&playbackevents.PlaybackFinishedEvent{HandleID: "h1", ResponseID: "r1"})
	waitFor(t, h.top, time.Second, isFinalizeRequest)
}
