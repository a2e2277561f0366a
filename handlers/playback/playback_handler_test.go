package playback

import (
	"context"
	"testing"
	"time"

	"callpilot/core"
	playbackevents "callpilot/events/playback"
	ttsevents "callpilot/events/tts"
	vadevents "callpilot/events/vad"
)

type playbackHarness struct {
	handler *PlaybackHandler
	in      chan *core.EventPacket
	next    chan *core.EventPacket
	top     chan *core.EventPacket
}

func newPlaybackHarness(t *testing.T, config PlaybackConfig) *playbackHarness {
	t.Helper()
	h := &playbackHarness{
		handler: NewPlaybackHandler(config, core.GetLogger()),
		in:      make(chan *core.EventPacket, 100),
		next:    make(chan *core.EventPacket, 100),
		top:     make(chan *core.EventPacket, 100),
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.handler.Initialize(h.in, h.next, h.top, ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := h.handler.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(cancel)
	return h
}

func (h *playbackHarness) send(event core.IEvent) {
	h.in <- core.NewEventPacket(event, core.EventRelayDestinationNextService, "test")
}

// pcmChunk builds a 16kHz mono PCM chunk of the given duration.
func pcmChunk(d time.Duration) core.AudioChunk {
	samples := int(d.Seconds() * 16000)
	return core.AudioChunk{
		Data:       make([]byte, samples*2),
		SampleRate: 16000,
		Channels:   1,
		Format:     core.PCM,
	}
}

func await(t *testing.T, ch chan *core.EventPacket, timeout time.Duration, match func(core.IEvent) bool) core.IEvent {
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

func awaitNone(t *testing.T, ch chan *core.EventPacket, window time.Duration, match func(core.IEvent) bool) {
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

func isTTSOutput(e core.IEvent) bool {
	_, ok := e.(*ttsevents.TTSOutputEvent)
	return ok
}

func TestPlaybackLifecycleFullyPlayed(t *testing.T) {
	h := newPlaybackHarness(t, PlaybackConfig{})

	h.send(&ttsevents.TTSSpeakingStartedEvent{ResponseID: "r1"})
	started := await(t, h.top, time.Second, func(e core.IEvent) bool {
		_, ok := e.(*playbackevents.PlaybackStartedEvent)
		return ok
	}).(*playbackevents.PlaybackStartedEvent)
	if started.ResponseID != "r1" {
		t.Fatalf("started response id = %q", started.ResponseID)
	}
	if started.HandleID == "" {
		t.Fatal("started handle id is empty")
	}

	h.send(&ttsevents.TTSOutputEvent{ResponseID: "r1", AudioChunk: pcmChunk(time.Second)})
	await(t, h.next, time.Second, isTTSOutput)

	h.send(&ttsevents.TTSSpeakingEndedEvent{ResponseID: "r1"})
	finished := await(t, h.top, time.Second, func(e core.IEvent) bool {
		_, ok := e.(*playbackevents.PlaybackFinishedEvent)
		return ok
	}).(*playbackevents.PlaybackFinishedEvent)
	if finished.HandleID != started.HandleID {
		t.Fatalf("finished handle %q != started handle %q", finished.HandleID, started.HandleID)
	}
	if got := finished.Played; got < 990*time.Millisecond || got > 1010*time.Millisecond {
		t.Fatalf("played = %v, want ~1s", got)
	}
}

func TestSuspectedInterruptionCachesAudio(t *testing.T) {
	h := newPlaybackHarness(t, PlaybackConfig{ConfirmationTimeout: time.Minute})

	h.send(&ttsevents.TTSSpeakingStartedEvent{ResponseID: "r1"})
	h.send(&vadevents.VADInterruptionSuspectedEvent{})
	h.send(&ttsevents.TTSOutputEvent{ResponseID: "r1", AudioChunk: pcmChunk(100 * time.Millisecond)})

	// Audio arriving while suspended stays cached.
	awaitNone(t, h.next, 100*time.Millisecond, isTTSOutput)
}

func TestConfirmedInterruptionDropsCacheAndReportsSplit(t *testing.T) {
	h := newPlaybackHarness(t, PlaybackConfig{
		ConfirmationTimeout: time.Minute,
		RollbackDuration:    time.Nanosecond,
	})

	h.send(&ttsevents.TTSSpeakingStartedEvent{ResponseID: "r1"})
	h.send(&ttsevents.TTSOutputEvent{ResponseID: "r1", AudioChunk: pcmChunk(2 * time.Second)})
	await(t, h.next, time.Second, isTTSOutput)
	h.send(&vadevents.VADInterruptionSuspectedEvent{})
	h.send(&ttsevents.TTSOutputEvent{ResponseID: "r1", AudioChunk: pcmChunk(time.Second)})
	h.send(&vadevents.VADInterruptionConfirmedEvent{})

	cancelled := await(t, h.top, time.Second, func(e core.IEvent) bool {
		_, ok := e.(*playbackevents.PlaybackCancelledEvent)
		return ok
	}).(*playbackevents.PlaybackCancelledEvent)

	if cancelled.ResponseID != "r1" {
		t.Fatalf("cancelled response id = %q", cancelled.ResponseID)
	}
	// 2s were sent but the wall clock says almost nothing played yet.
	if cancelled.Played > 500*time.Millisecond {
		t.Fatalf("played = %v, want well under sent duration", cancelled.Played)
	}
	if total := cancelled.Played + cancelled.Unplayed; total < 1990*time.Millisecond || total > 2010*time.Millisecond {
		t.Fatalf("played+unplayed = %v, want ~2s", total)
	}

	// The cached chunk must not be forwarded afterwards.
	awaitNone(t, h.next, 100*time.Millisecond, isTTSOutput)
}

func TestFalsePositiveResumesCachedAudio(t *testing.T) {
	h := newPlaybackHarness(t, PlaybackConfig{ConfirmationTimeout: 50 * time.Millisecond})

	h.send(&ttsevents.TTSSpeakingStartedEvent{ResponseID: "r1"})
	h.send(&vadevents.VADInterruptionSuspectedEvent{})
	h.send(&ttsevents.TTSOutputEvent{ResponseID: "r1", AudioChunk: pcmChunk(100 * time.Millisecond)})
	h.send(&ttsevents.TTSOutputEvent{ResponseID: "r1", AudioChunk: pcmChunk(100 * time.Millisecond)})

	// No confirmation arrives; after the timeout both cached chunks flow out
	// in order.
	await(t, h.next, time.Second, isTTSOutput)
	await(t, h.next, time.Second, isTTSOutput)
}

func TestLateConfirmationAfterPlaybackFinishedIsHarmless(t *testing.T) {
	h := newPlaybackHarness(t, PlaybackConfig{})

	h.send(&ttsevents.TTSSpeakingStartedEvent{ResponseID: "r1"})
	h.send(&ttsevents.TTSSpeakingEndedEvent{ResponseID: "r1"})
	await(t, h.top, time.Second, func(e core.IEvent) bool {
		_, ok := e.(*playbackevents.PlaybackFinishedEvent)
		return ok
	})

	h.send(&vadevents.VADInterruptionConfirmedEvent{})
	awaitNone(t, h.top, 100*time.Millisecond, func(e core.IEvent) bool {
		_, ok := e.(*playbackevents.PlaybackCancelledEvent)
		return ok
	})
}
