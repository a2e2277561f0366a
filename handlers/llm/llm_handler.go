package llm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"callpilot/core"
	llmevents "callpilot/events/llm"
	turnevents "callpilot/events/turn"
	vadevents "callpilot/events/vad"
	whisperevents "callpilot/events/whisper"
)

type LLMService interface {
	core.IService
	RunCompletion(
		llmContext core.LLMContext,
		outChan chan<- string,
		toolInvocationChan chan<- core.LLMToolCall,
		fatalServiceErrorChan chan<- error,
		completionStartChan chan<- struct{},
		completionEndChan chan<- struct{},
	)
}

// LLMHandler owns the conversation context. Each finalized human utterance is
// appended as a user message and triggers a streamed completion; the full
// assistant reply is appended back once the stream completes. Whisper prompt
// injections arrive as system instructions and are prepended to the next
// generation only.
type LLMHandler struct {
	core.BaseHandler
	config LLMHandlerConfig

	llmContext     core.LLMContext
	pendingWhisper []string

	messageOutChan        chan string
	toolInvocationOutChan chan core.LLMToolCall
	completionStartChan   chan struct{}
	completionEndChan     chan struct{}

	responseID   string
	utteranceID  string
	generationAt time.Time
	discarding   int32 // atomic: 1 = drop stale chunks from a cancelled generation
}

func NewLLMHandler(service LLMService, config LLMHandlerConfig, logger *core.Logger) *LLMHandler {
	if config.GenerationTimeout == 0 {
		config.GenerationTimeout = DefaultConfig().GenerationTimeout
	}
	h := &LLMHandler{
		BaseHandler: *core.NewBaseHandler(service, logger),
		config:      config,
	}
	if config.SystemPrompt != "" {
		h.llmContext.AddSystemMessage(config.SystemPrompt)
	}
	return h
}

// WithBackupService registers a fallback service used when the primary fails.
// Returns the handler to allow chaining.
func (h *LLMHandler) WithBackupService(service LLMService) *LLMHandler {
	h.BackupServices = append(h.BackupServices, service)
	return h
}

// WithTools registers the tools exposed to the model.
func (h *LLMHandler) WithTools(tools []core.LLMTool) *LLMHandler {
	h.llmContext.Tools = tools
	return h
}

func (h *LLMHandler) Initialize(
	inputChan <-chan *core.EventPacket,
	outputNextChan chan<- *core.EventPacket,
	outputTopChan chan<- *core.EventPacket,
	ctx context.Context,
) error {
	h.messageOutChan = make(chan string, 10)
	h.toolInvocationOutChan = make(chan core.LLMToolCall)
	h.completionStartChan = make(chan struct{}, 1)
	h.completionEndChan = make(chan struct{}, 1)
	return h.BaseHandler.Initialize(inputChan, outputNextChan, outputTopChan, ctx)
}

func (h *LLMHandler) Start() error {
	go h.eventLoop()
	return nil
}

func (h *LLMHandler) eventLoop() {
	var fullText string
	var toolCalls []core.LLMToolCall
	for {
		select {
		case packet := <-h.InputChan:
			h.HandleEvent(packet)

		case msg := <-h.messageOutChan:
			if atomic.LoadInt32(&h.discarding) == 0 {
				h.SendPacket(core.NewEventPacket(&llmevents.LLMResponseChunkEvent{
					ResponseID: h.responseID,
					Chunk:      msg,
				}, core.EventRelayDestinationNextService, "LLMHandler"))
				fullText += msg
			}

		case toolCall := <-h.toolInvocationOutChan:
			if atomic.LoadInt32(&h.discarding) == 0 {
				toolCalls = append(toolCalls, toolCall)
				h.SendPacket(core.NewEventPacket(&llmevents.LLMToolInvocationRequestedEvent{
					ResponseID: h.responseID,
					Call:       toolCall,
				}, core.EventRelayDestinationNextService, "LLMHandler"))
			}

		case <-h.completionStartChan:
			fullText = ""
			toolCalls = nil

		case <-h.completionEndChan:
			if atomic.LoadInt32(&h.discarding) == 0 {
				h.completeResponse(fullText, toolCalls)
			}
			fullText = ""
			toolCalls = nil

		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *LLMHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *turnevents.TurnUtteranceFinalizedEvent:
		h.startGeneration(event.Utterance)

	case *whisperevents.WhisperPromptEvent:
		// Queued for the next generation only; it never enters the
		// durable conversation history.
		h.pendingWhisper = append(h.pendingWhisper, event.Text)
		return nil // consumed, not relayed

	case *vadevents.VADInterruptionSuspectedEvent:
		// Pause forwarding until the interruption is confirmed or dismissed.
		atomic.StoreInt32(&h.discarding, 1)

	case *vadevents.VADInterruptionConfirmedEvent:
		atomic.StoreInt32(&h.discarding, 1)
		h.Service.Reset()

	case *turnevents.TurnUtteranceStartedEvent:
		// A dismissed suspicion resolves once a real turn opens; the confirmed
		// path has already reset the stream by now.
	}
	h.SendPacket(packet)
	return nil
}

func (h *LLMHandler) startGeneration(utterance core.Utterance) {
	atomic.StoreInt32(&h.discarding, 0)
	h.responseID = uuid.New().String()
	h.utteranceID = utterance.ID
	h.generationAt = time.Now()

	h.llmContext.AddUserMessage(utterance.Text)
	h.trimHistory()

	h.SendPacket(core.NewEventPacket(&llmevents.LLMResponseStartedEvent{
		ResponseID:  h.responseID,
		UtteranceID: h.utteranceID,
	}, core.EventRelayDestinationNextService, "LLMHandler"))

	completionCtx := h.llmContext.Clone()
	if len(h.pendingWhisper) > 0 {
		for _, text := range h.pendingWhisper {
			completionCtx.AddSystemMessage(text)
		}
		h.pendingWhisper = nil
	}

	// Run the completion asynchronously so the handler stays responsive to
	// interruption events during generation.
	go func() {
		h.Service.Reset()
		h.Service.(LLMService).RunCompletion(
			completionCtx,
			h.messageOutChan,
			h.toolInvocationOutChan,
			h.FatalServiceErrorChan,
			h.completionStartChan,
			h.completionEndChan,
		)
	}()
}

func (h *LLMHandler) completeResponse(fullText string, toolCalls []core.LLMToolCall) {
	if fullText == "" && len(toolCalls) == 0 {
		return
	}
	h.llmContext.AddAssistantMessage(fullText)
	response := core.TurnResponse{
		ID:          h.responseID,
		UtteranceID: h.utteranceID,
		Text:        fullText,
		ToolCalls:   toolCalls,
		GeneratedAt: time.Now(),
		Latency:     time.Since(h.generationAt),
		Reason:      core.ReasonCompleted,
	}
	h.SendPacket(core.NewEventPacket(&llmevents.LLMResponseCompletedEvent{
		Response: response,
	}, core.EventRelayDestinationNextService, "LLMHandler"))
}

// trimHistory drops the oldest non-system messages once the window is full.
func (h *LLMHandler) trimHistory() {
	if h.config.MaxHistoryMessages <= 0 {
		return
	}
	var system, rest []core.LLMMessage
	for _, msg := range h.llmContext.Messages {
		if msg.Role == core.LLMMessageRoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	if len(rest) <= h.config.MaxHistoryMessages {
		return
	}
	rest = rest[len(rest)-h.config.MaxHistoryMessages:]
	h.llmContext.Messages = append(system, rest...)
}
