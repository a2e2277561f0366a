package transport

import (
	"context"

	"callpilot/core"
	transportevents "callpilot/events/transport"
	ttsevents "callpilot/events/tts"
	"callpilot/utils/audio"
)

type TransportService interface {
	core.IService
	Connect() error
	SendRawOutput(data core.RawData) error
	StartReceiving(outputChan chan<- core.RawData, errorChan chan<- error)
	Hangup(reason string) error
}

// TransportHandlerWrapper shares one connected transport between the input
// handler at the head of the pipeline and the output handler at its tail.
type TransportHandlerWrapper struct {
	service TransportService
	logger  *core.Logger
	config  TransportConfig

	connected bool
}

func NewTransportHandlerWrapper(
	service TransportService,
	config TransportConfig,
	logger *core.Logger,
) *TransportHandlerWrapper {
	return &TransportHandlerWrapper{
		service: service,
		logger:  logger,
		config:  config,
	}
}

func (w *TransportHandlerWrapper) GetInputHandler() *TransportInputHandler {
	return &TransportInputHandler{
		BaseHandler: *core.NewBaseHandler(w.service, w.logger),
		config:      w.config,
		wrapper:     w,
	}
}

func (w *TransportHandlerWrapper) GetOutputHandler() *TransportOutputHandler {
	return &TransportOutputHandler{
		BaseHandler: *core.NewBaseHandler(w.service, w.logger),
		config:      w.config,
		wrapper:     w,
	}
}

func (w *TransportHandlerWrapper) connect() error {
	if w.connected {
		return nil
	}
	if err := w.service.Connect(); err != nil {
		return err
	}
	w.connected = true
	return nil
}

// TransportInputHandler turns inbound frames into pipeline events. It assigns
// the monotonically increasing Seq that the transcription stage uses to
// reorder late frames, and announces the connection on the first frame.
type TransportInputHandler struct {
	core.BaseHandler
	config  TransportConfig
	wrapper *TransportHandlerWrapper

	seq        uint64
	firstFrame bool
}

func (h *TransportInputHandler) Initialize(
	inputChan <-chan *core.EventPacket,
	outputNextChan chan<- *core.EventPacket,
	outputTopChan chan<- *core.EventPacket,
	ctx context.Context,
) error {
	if err := h.BaseHandler.Initialize(inputChan, outputNextChan, outputTopChan, ctx); err != nil {
		return err
	}
	return h.wrapper.connect()
}

func (h *TransportInputHandler) Start() error {
	outputChan := make(chan core.RawData)
	errorChan := make(chan error)

	go h.Service.(TransportService).StartReceiving(outputChan, errorChan)
	go h.receiveLoop(outputChan, errorChan)
	return nil
}

func (h *TransportInputHandler) receiveLoop(outputChan <-chan core.RawData, errorChan <-chan error) {
	for {
		select {
		case packet := <-h.InputChan:
			h.HandleEvent(packet)

		case data := <-outputChan:
			audioChunk, signal, err := h.config.Serializer.Deserialize(data)
			if err != nil {
				h.HandleError(err)
				continue
			}
			if signal.Kind == SignalHangup {
				h.SendPacket(core.NewEventPacket(&transportevents.TransportHangupEvent{
					Reason: signal.Reason,
				}, core.EventRelayDestinationNextService, "TransportInputHandler"))
				continue
			}
			if audioChunk.Data == nil {
				continue
			}
			if !h.firstFrame {
				h.firstFrame = true
				h.SendPacket(core.NewEventPacket(&transportevents.TransportConnectedEvent{},
					core.EventRelayDestinationNextService, "TransportInputHandler"))
			}
			h.seq++
			h.SendPacket(core.NewEventPacket(&transportevents.TransportAudioInputEvent{
				AudioChunk: audioChunk,
				Seq:        h.seq,
			}, core.EventRelayDestinationNextService, "TransportInputHandler"))

		case err := <-errorChan:
			h.FatalServiceErrorChan <- err

		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *TransportInputHandler) HandleEvent(packet *core.EventPacket) error {
	h.SendPacket(packet)
	return nil
}

// TransportOutputHandler ships gated playback audio back over the wire in the
// transport's native encoding.
type TransportOutputHandler struct {
	core.BaseHandler
	config  TransportConfig
	wrapper *TransportHandlerWrapper
}

func (h *TransportOutputHandler) Initialize(
	inputChan <-chan *core.EventPacket,
	outputNextChan chan<- *core.EventPacket,
	outputTopChan chan<- *core.EventPacket,
	ctx context.Context,
) error {
	if err := h.BaseHandler.Initialize(inputChan, outputNextChan, outputTopChan, ctx); err != nil {
		return err
	}
	return h.wrapper.connect()
}

func (h *TransportOutputHandler) Start() error {
	go h.eventLoop()
	return nil
}

func (h *TransportOutputHandler) eventLoop() {
	for {
		select {
		case packet := <-h.InputChan:
			h.HandleEvent(packet)
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *TransportOutputHandler) HandleEvent(packet *core.EventPacket) error {
	switch event := packet.Event.(type) {
	case *ttsevents.TTSOutputEvent:
		h.sendAudio(event.AudioChunk)

	case *transportevents.TransportAudioOutputEvent:
		h.sendAudio(event.AudioChunk)

	case *core.EndCallEvent:
		if err := h.Service.(TransportService).Hangup(event.Reason); err != nil {
			h.HandleError(err)
		}
	}
	h.SendPacket(packet)
	return nil
}

func (h *TransportOutputHandler) sendAudio(chunk core.AudioChunk) {
	converted, err := audio.ConvertAudioChunk(
		chunk, h.config.OutAudioFormat, h.config.OutChannels, h.config.OutSampleRate,
	)
	if err != nil {
		h.HandleError(err)
		return
	}
	rawData, err := h.config.Serializer.SerializeAudioOutput(converted)
	if err != nil {
		h.HandleError(err)
		return
	}
	if err := h.Service.(TransportService).SendRawOutput(rawData); err != nil {
		h.FatalServiceErrorChan <- err
	}
}
