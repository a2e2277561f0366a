package stt

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"callpilot/core"
	transportevents "callpilot/events/transport"
)

// recordingSTTService captures the payloads handed to the provider in arrival
// order. Payloads listed in slowFrames stall before returning, so any
// concurrent senders would overtake them.
type recordingSTTService struct {
	mu         sync.Mutex
	received   [][]byte
	slowFrames map[uint64]time.Duration
}

func (s *recordingSTTService) Initialize(context.Context) error { return nil }
func (s *recordingSTTService) Cleanup() error                   { return nil }
func (s *recordingSTTService) Reset() error                     { return nil }

func (s *recordingSTTService) StartTranscriptionSession(
	chan<- TranscriptResult, chan<- string, chan<- error,
) {
}

func (s *recordingSTTService) SendTranscriptionAudio(data []byte) error {
	if d, ok := s.slowFrames[frameSeq(data)]; ok {
		time.Sleep(d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, data)
	return nil
}

func (s *recordingSTTService) Finalize() error { return nil }

func (s *recordingSTTService) receivedSeqs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seqs := make([]uint64, len(s.received))
	for i, data := range s.received {
		seqs[i] = frameSeq(data)
	}
	return seqs
}

// audioFrame encodes the sequence number into the payload so the service can
// tell frames apart.
func audioFrame(seq uint64) core.AudioChunk {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, seq)
	return core.AudioChunk{
		Data:       data,
		Format:     core.PCM,
		SampleRate: 16000,
		Channels:   1,
	}
}

func frameSeq(data []byte) uint64 {
	return binary.LittleEndian.Uint64(data)
}

type sttHarness struct {
	handler *STTHandler
	service *recordingSTTService
	in      chan *core.EventPacket
}

func newSTTHarness(t *testing.T, config STTConfig, service *recordingSTTService) *sttHarness {
	t.Helper()
	handler := NewSTTHandler(service, config, nil)

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
	return &sttHarness{handler: handler, service: service, in: in}
}

func (h *sttHarness) sendFrame(seq uint64) {
	h.in <- core.NewEventPacket(&transportevents.TransportAudioInputEvent{
		AudioChunk: audioFrame(seq),
		Seq:        seq,
	}, core.EventRelayDestinationNextService, "test")
}

func (h *sttHarness) waitForFrames(t *testing.T, n int) []uint64 {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		seqs := h.service.receivedSeqs()
		if len(seqs) >= n {
			return seqs
		}
		select {
		case <-deadline:
			t.Fatalf("provider received %d frames, want %d", len(seqs), n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestFramesReachProviderInSequenceOrder(t *testing.T) {
	// Frame 0 is slow at the provider. A concurrent send per frame would let
	// the later frames overtake it.
	service := &recordingSTTService{slowFrames: map[uint64]time.Duration{0: 50 * time.Millisecond}}
	h := newSTTHarness(t, DefaultConfig(), service)

	for _, seq := range []uint64{0, 2, 3, 1} {
		h.sendFrame(seq)
	}

	seqs := h.waitForFrames(t, 4)
	want := []uint64{0, 1, 2, 3}
	for i, seq := range want {
		if seqs[i] != seq {
			t.Fatalf("provider order = %v, want %v", seqs, want)
		}
	}
}

func TestUnfilledGapFlushesInOrderWithoutDroppingAudio(t *testing.T) {
	service := &recordingSTTService{}
	config := DefaultConfig()
	config.MaxPendingFrames = 2
	h := newSTTHarness(t, config, service)

	// Frame 1 never arrives; once the buffer limit is hit everything held
	// goes out in sequence order.
	h.sendFrame(0)
	h.sendFrame(2)
	h.sendFrame(3)

	seqs := h.waitForFrames(t, 3)
	want := []uint64{0, 2, 3}
	for i, seq := range want {
		if seqs[i] != seq {
			t.Fatalf("provider order = %v, want %v", seqs, want)
		}
	}
}

func TestLateFrameIsDeliveredImmediately(t *testing.T) {
	service := &recordingSTTService{}
	h := newSTTHarness(t, DefaultConfig(), service)

	h.sendFrame(5)
	h.sendFrame(6)
	// From before the current position: still delivered, never dropped.
	h.sendFrame(2)

	seqs := h.waitForFrames(t, 3)
	want := []uint64{5, 6, 2}
	for i, seq := range want {
		if seqs[i] != seq {
			t.Fatalf("provider order = %v, want %v", seqs, want)
		}
	}
}
