package tts

import (
	"context"
	"strings"

	"callpilot/core"
	llmevents "callpilot/events/llm"
	ttsevents "callpilot/events/tts"
	vadevents "callpilot/events/vad"
)

type TTSService interface {
	core.IService
	StartTTSSession(
		outChan chan<- core.AudioChunk,
		errorChan chan<- error,
		segmentDoneChan chan<- struct{},
	) error
	BufferText(text string) error
	Flush() error
}

// TTSHandler streams assistant text into the synthesizer as it arrives.
// Buffered text is flushed early on break words so audio starts before the
// full response is generated. A confirmed barge-in resets the synthesis
// stream and drops whatever was buffered.
type TTSHandler struct {
	core.BaseHandler
	config TTSConfig

	audioChunkOutChan chan core.AudioChunk
	errorChan         chan error
	segmentDoneChan   chan struct{}
	sendChan          chan textSegment

	pending    strings.Builder
	responseID string
	speaking   bool
}

// textSegment is one ordered unit of work for the sender goroutine.
type textSegment struct {
	text  string
	flush bool
}

func NewTTSHandler(service TTSService, config TTSConfig, logger *core.Logger) *TTSHandler {
	def := DefaultConfig()
	if len(config.BreakWords) == 0 {
		config.BreakWords = def.BreakWords
	}
	if config.MinTextLength == 0 {
		config.MinTextLength = def.MinTextLength
	}
	return &TTSHandler{
		BaseHandler: *core.NewBaseHandler(service, logger),
		config:      config,
	}
}

func (h *TTSHandler) WithBackupService(service TTSService) *TTSHandler {
	h.BackupServices = append(h.BackupServices, service)
	return h
}

func (h *TTSHandler) Initialize(
	inputChan <-chan *core.EventPacket,
	outputNextChan chan<- *core.EventPacket,
	outputTopChan chan<- *core.EventPacket,
	ctx context.Context,
) error {
	h.audioChunkOutChan = make(chan core.AudioChunk)
	h.errorChan = make(chan error)
	h.segmentDoneChan = make(chan struct{}, 1)
	h.sendChan = make(chan textSegment, 16)
	return h.BaseHandler.Initialize(inputChan, outputNextChan, outputTopChan, ctx)
}

func (h *TTSHandler) Start() error {
	h.OnServiceSwitched = func() {
		h.startSession()
	}
	h.startSession()
	go h.eventLoop()
	go h.senderLoop()
	return nil
}

// senderLoop is the single writer to the synthesizer, so text segments of one
// response arrive in generation order.
func (h *TTSHandler) senderLoop() {
	for {
		select {
		case seg := <-h.sendChan:
			service := h.Service.(TTSService)
			if seg.text != "" {
				if err := service.BufferText(seg.text); err != nil {
					h.FatalServiceErrorChan <- err
					continue
				}
			}
			if seg.flush {
				if err := service.Flush(); err != nil {
					h.FatalServiceErrorChan <- err
				}
			}
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *TTSHandler) startSession() {
	go func() {
		if err := h.Service.(TTSService).StartTTSSession(
			h.audioChunkOutChan, h.errorChan, h.segmentDoneChan,
		); err != nil {
			h.FatalServiceErrorChan <- err
		}
	}()
}

func (h *TTSHandler) eventLoop() {
	for {
		select {
		case packet := <-h.InputChan:
			h.HandleEvent(packet)
		case audioChunk := <-h.audioChunkOutChan:
			if !h.speaking {
				h.speaking = true
				h.SendPacket(core.NewEventPacket(&ttsevents.TTSSpeakingStartedEvent{
					ResponseID: h.responseID,
				}, core.EventRelayDestinationNextService, "TTSHandler"))
			}
			h.SendPacket(core.NewEventPacket(&ttsevents.TTSOutputEvent{
				ResponseID: h.responseID,
				AudioChunk: audioChunk,
			}, core.EventRelayDestinationNextService, "TTSHandler"))
		case <-h.segmentDoneChan:
			if h.speaking {
				h.speaking = false
				h.SendPacket(core.NewEventPacket(&ttsevents.TTSSpeakingEndedEvent{
					ResponseID: h.responseID,
				}, core.EventRelayDestinationNextService, "TTSHandler"))
			}
		case err := <-h.errorChan:
			h.FatalServiceErrorChan <- err
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *TTSHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *llmevents.LLMResponseStartedEvent:
		h.responseID = event.ResponseID
		h.pending.Reset()

	case *llmevents.LLMResponseChunkEvent:
		h.bufferChunk(event.Chunk)

	case *llmevents.LLMResponseCompletedEvent:
		h.flushPending(true)

	case *ttsevents.TTSSpeakEvent:
		// Direct speech request (greeting, operator prompt) outside a
		// model generation.
		h.responseID = ""
		h.pending.Reset()
		h.pending.WriteString(event.Text)
		h.flushPending(true)

	case *vadevents.VADInterruptionConfirmedEvent:
		h.pending.Reset()
		go func() {
			if err := h.Service.Reset(); err != nil {
				h.FatalServiceErrorChan <- err
			}
		}()
	}
	h.SendPacket(packet)
	return nil
}

// bufferChunk accumulates text and flushes at break words once enough has
// built up, so synthesis can begin well before the response completes.
func (h *TTSHandler) bufferChunk(chunk string) {
	h.pending.WriteString(chunk)
	if h.pending.Len() < h.config.MinTextLength {
		return
	}
	text := h.pending.String()
	if idx := h.lastBreakIndex(text); idx >= 0 {
		head, tail := text[:idx+1], text[idx+1:]
		h.pending.Reset()
		h.pending.WriteString(tail)
		h.sendToService(head, false)
	}
}

func (h *TTSHandler) flushPending(final bool) {
	text := h.pending.String()
	h.pending.Reset()
	h.sendToService(text, final)
}

func (h *TTSHandler) sendToService(text string, flush bool) {
	text = normalizeTextForTTS(text)
	if text == "" && !flush {
		return
	}
	select {
	case h.sendChan <- textSegment{text: text, flush: flush}:
	case <-h.Ctx.Done():
	}
}

func (h *TTSHandler) lastBreakIndex(text string) int {
	last := -1
	for _, word := range h.config.BreakWords {
		if idx := strings.LastIndex(text, word); idx > last {
			last = idx
		}
	}
	return last
}
