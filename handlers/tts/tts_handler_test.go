package tts

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"callpilot/core"
	llmevents "callpilot/events/llm"
)

const flushMarker = "<flush>"

// recordingTTSService captures BufferText and Flush calls in arrival order.
// Texts containing slowSubstring stall before returning, so any concurrent
// senders would overtake them.
type recordingTTSService struct {
	mu            sync.Mutex
	calls         []string
	slowSubstring string
}

func (s *recordingTTSService) Initialize(context.Context) error { return nil }
func (s *recordingTTSService) Cleanup() error                   { return nil }
func (s *recordingTTSService) Reset() error                     { return nil }

func (s *recordingTTSService) StartTTSSession(
	chan<- core.AudioChunk, chan<- error, chan<- struct{},
) error {
	return nil
}

func (s *recordingTTSService) BufferText(text string) error {
	if s.slowSubstring != "" && strings.Contains(text, s.slowSubstring) {
		time.Sleep(50 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, text)
	return nil
}

func (s *recordingTTSService) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, flushMarker)
	return nil
}

func (s *recordingTTSService) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func newTTSHarness(t *testing.T, service *recordingTTSService) chan *core.EventPacket {
	t.Helper()
	handler := NewTTSHandler(service, DefaultConfig(), nil)

	in := make(chan *core.EventPacket, 100)
	next := make(chan *core.EventPacket, 100)
	top := make(chan *core.EventPacket, 100)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := handler.Initialize(in, next, top, ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := handler.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return in
}

func waitForCalls(t *testing.T, service *recordingTTSService, n int) []string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		calls := service.recorded()
		if len(calls) >= n {
			return calls
		}
		select {
		case <-deadline:
			t.Fatalf("synthesizer received %d calls, want %d", len(calls), n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTextSegmentsReachSynthesizerInGenerationOrder(t *testing.T) {
	// The first segment is slow at the synthesizer. A concurrent send per
	// segment would let the later ones overtake it.
	service := &recordingTTSService{slowSubstring: "Hello"}
	in := newTTSHarness(t, service)

	in <- core.NewEventPacket(&llmevents.LLMResponseStartedEvent{
		ResponseID: "resp-1",
	}, core.EventRelayDestinationNextService, "test")

	for _, chunk := range []string{
		"Hello there, ",
		"thanks for calling today. ",
		"How can I help you? ",
	} {
		in <- core.NewEventPacket(&llmevents.LLMResponseChunkEvent{
			ResponseID: "resp-1",
			Chunk:      chunk,
		}, core.EventRelayDestinationNextService, "test")
	}
	in <- core.NewEventPacket(&llmevents.LLMResponseCompletedEvent{}, core.EventRelayDestinationNextService, "test")

	calls := waitForCalls(t, service, 3)
	want := []string{
		"Hello there, thanks for calling today.",
		"How can I help you?",
		flushMarker,
	}
	for i, call := range want {
		if calls[i] != call {
			t.Fatalf("synthesizer calls = %q, want %q", calls, want)
		}
	}
}
