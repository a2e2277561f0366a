package stt

import (
	"context"
	"sort"

	"callpilot/core"
	sttevents "callpilot/events/stt"
	transportevents "callpilot/events/transport"
	"callpilot/utils/audio"
)

// TranscriptResult is a finalized transcript from the STT engine.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// ISTTService is a streaming speech-to-text provider.
type ISTTService interface {
	core.IService
	StartTranscriptionSession(
		finalChan chan<- TranscriptResult,
		interimChan chan<- string,
		fatalErrorChan chan<- error,
	)
	SendTranscriptionAudio(audioData []byte) error
	// Finalize flushes the open utterance; the final transcript arrives on
	// the session's final channel.
	Finalize() error
}

// STTHandler feeds inbound audio to the STT service and relays interim and
// final transcripts into the pipeline. Frames arriving out of order are held
// in a small reorder buffer keyed by transport sequence number.
type STTHandler struct {
	core.BaseHandler
	config STTConfig

	finalChan   chan TranscriptResult
	interimChan chan string
	sendChan    chan []byte

	nextSeq uint64
	seenAny bool
	pending map[uint64]core.AudioChunk
}

func NewSTTHandler(service ISTTService, config STTConfig, logger *core.Logger) *STTHandler {
	if config.MaxPendingFrames == 0 {
		config.MaxPendingFrames = DefaultConfig().MaxPendingFrames
	}
	return &STTHandler{
		BaseHandler: *core.NewBaseHandler(service, logger),
		config:      config,
		pending:     make(map[uint64]core.AudioChunk),
	}
}

// WithBackupService registers a fallback provider used when the primary fails.
func (h *STTHandler) WithBackupService(service ISTTService) *STTHandler {
	h.BackupServices = append(h.BackupServices, service)
	return h
}

func (h *STTHandler) Initialize(
	inputChan <-chan *core.EventPacket,
	outputNextChan chan<- *core.EventPacket,
	outputTopChan chan<- *core.EventPacket,
	ctx context.Context,
) error {
	h.finalChan = make(chan TranscriptResult, 4)
	h.interimChan = make(chan string, 16)
	h.sendChan = make(chan []byte, 100)
	return h.BaseHandler.Initialize(inputChan, outputNextChan, outputTopChan, ctx)
}

func (h *STTHandler) Start() error {
	h.Service.(ISTTService).StartTranscriptionSession(h.finalChan, h.interimChan, h.FatalServiceErrorChan)
	// After a failover the replacement engine needs its own streaming session.
	h.OnServiceSwitched = func() {
		h.Service.(ISTTService).StartTranscriptionSession(h.finalChan, h.interimChan, h.FatalServiceErrorChan)
	}
	go h.eventLoop()
	go h.senderLoop()
	return nil
}

// senderLoop is the single writer to the provider, so frames reach it in the
// order the reorder buffer produced.
func (h *STTHandler) senderLoop() {
	for {
		select {
		case data := <-h.sendChan:
			if err := h.Service.(ISTTService).SendTranscriptionAudio(data); err != nil {
				h.HandleError(err)
			}
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *STTHandler) eventLoop() {
	for {
		select {
		case result := <-h.finalChan:
			h.SendPacket(core.NewEventPacket(&sttevents.STTFinalOutputEvent{
				Text:       result.Text,
				Confidence: result.Confidence,
			}, core.EventRelayDestinationNextService, "STTHandler"))
		case interim := <-h.interimChan:
			h.SendPacket(core.NewEventPacket(&sttevents.STTInterimOutputEvent{
				Text: interim,
			}, core.EventRelayDestinationNextService, "STTHandler"))
		case packet := <-h.InputChan:
			h.HandleEvent(packet)
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *STTHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *transportevents.TransportAudioInputEvent:
		h.ingestFrame(event.Seq, event.AudioChunk)
	case *sttevents.STTFinalizeRequestEvent:
		if err := h.Service.(ISTTService).Finalize(); err != nil {
			h.HandleError(err)
		}
	}
	h.SendPacket(packet)
	return nil
}

// ingestFrame delivers frames to the engine in sequence order. Late frames go
// out immediately; gaps are held until filled or the buffer limit is hit, at
// which point everything buffered is flushed in order.
func (h *STTHandler) ingestFrame(seq uint64, chunk core.AudioChunk) {
	if !h.seenAny {
		h.seenAny = true
		h.nextSeq = seq
	}

	switch {
	case seq == h.nextSeq:
		h.sendFrame(chunk)
		h.nextSeq++
		h.drainPending()
	case seq > h.nextSeq:
		h.pending[seq] = chunk
		if len(h.pending) >= h.config.MaxPendingFrames {
			h.flushPending()
		}
	default:
		// Frame from before the current position: deliver rather than drop.
		h.sendFrame(chunk)
	}
}

func (h *STTHandler) drainPending() {
	for {
		chunk, ok := h.pending[h.nextSeq]
		if !ok {
			return
		}
		delete(h.pending, h.nextSeq)
		h.sendFrame(chunk)
		h.nextSeq++
	}
}

// flushPending gives up on missing frames and sends everything buffered in
// sequence order.
func (h *STTHandler) flushPending() {
	seqs := make([]uint64, 0, len(h.pending))
	for seq := range h.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		h.sendFrame(h.pending[seq])
		delete(h.pending, seq)
		if seq >= h.nextSeq {
			h.nextSeq = seq + 1
		}
	}
}

func (h *STTHandler) sendFrame(chunk core.AudioChunk) {
	converted, err := audio.ConvertAudioChunk(
		chunk, h.config.RequiredAudioFormat, h.config.RequiredChannels, h.config.RequiredSampleRate,
	)
	if err != nil {
		h.HandleError(err)
		return
	}
	select {
	case h.sendChan <- converted.Data:
	case <-h.Ctx.Done():
	}
}

func (h *STTHandler) Cleanup() error {
	return h.BaseHandler.Cleanup()
}
