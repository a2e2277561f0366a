package core

import (
	"context"
	"errors"
	"fmt"
)

// IService is the lifecycle contract every provider service implements.
type IService interface {
	Initialize(ctx context.Context) error
	Cleanup() error
	Reset() error
}

// IHandler is one stage of a session pipeline. Handlers are connected by
// channels: events arrive on InputChan, flow to the next handler via the
// next-channel, or to the pipeline top for broadcast.
type IHandler interface {
	Initialize(
		inputChan <-chan *EventPacket,
		outputNextChan chan<- *EventPacket,
		outputTopChan chan<- *EventPacket,
		ctx context.Context,
	) error
	Start() error
	HandleEvent(packet *EventPacket) error

	Cleanup() error
	Reset() error
}

// BaseHandler carries the wiring shared by all handlers: the primary provider
// service, an ordered list of backup services, and the fatal-error loop that
// performs the one-shot failover to a backup provider.
type BaseHandler struct {
	Service               IService
	BackupServices        []IService
	Logger                *Logger
	Ctx                   context.Context
	InputChan             <-chan *EventPacket
	FatalServiceErrorChan chan error

	// OnServiceSwitched, when set, runs after a successful failover so the
	// owning handler can re-establish provider sessions on the new service.
	OnServiceSwitched func()

	outputNextChan chan<- *EventPacket
	outputTopChan  chan<- *EventPacket
}

func NewBaseHandler(service IService, logger *Logger) *BaseHandler {
	if logger == nil {
		logger = GetLogger()
	}
	return &BaseHandler{
		Service: service,
		Logger:  logger,
	}
}

func (h *BaseHandler) Initialize(
	inputChan <-chan *EventPacket,
	outputNextChan chan<- *EventPacket,
	outputTopChan chan<- *EventPacket,
	ctx context.Context,
) error {
	h.InputChan = inputChan
	h.outputNextChan = outputNextChan
	h.outputTopChan = outputTopChan
	h.FatalServiceErrorChan = make(chan error, 4)
	h.Ctx = ctx
	go h.fatalErrorLoop()
	if h.Service == nil {
		return nil
	}
	return h.Service.Initialize(ctx)
}

func (h *BaseHandler) Cleanup() error {
	if h.Service == nil {
		return nil
	}
	return h.Service.Cleanup()
}

func (h *BaseHandler) Reset() error {
	if h.Service == nil {
		return nil
	}
	return h.Service.Reset()
}

// SwitchToBackupService promotes the next backup service to primary and
// initializes it. Returns an error when no backup is left.
func (h *BaseHandler) SwitchToBackupService() error {
	if len(h.BackupServices) == 0 {
		return errors.New("no backup services available")
	}
	next := h.BackupServices[0]
	h.BackupServices = h.BackupServices[1:]
	if err := next.Initialize(h.Ctx); err != nil {
		return fmt.Errorf("backup service init: %w", err)
	}
	if h.Service != nil {
		_ = h.Service.Cleanup()
	}
	h.Service = next
	return nil
}

func (h *BaseHandler) SendPacket(packet *EventPacket) {
	switch packet.Destination {
	case EventRelayDestinationTopService:
		select {
		case h.outputTopChan <- packet:
		case <-h.Ctx.Done():
		}
	default:
		select {
		case h.outputNextChan <- packet:
		case <-h.Ctx.Done():
		}
	}
}

// HandleError reports a fatal provider failure to the failover loop.
func (h *BaseHandler) HandleError(err error) {
	select {
	case h.FatalServiceErrorChan <- err:
	case <-h.Ctx.Done():
	}
}

// fatalErrorLoop consumes fatal provider errors. Each error triggers one
// failover attempt; when no backup is left the error escalates to the session
// driver as a CriticalErrorEvent, which fails the session.
func (h *BaseHandler) fatalErrorLoop() {
	for {
		select {
		case err := <-h.FatalServiceErrorChan:
			wrapped := fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
			if switchErr := h.SwitchToBackupService(); switchErr != nil {
				h.Logger.With(map[string]any{"error": err.Error()}).Error("provider failed with no fallback left")
				h.SendPacket(NewEventPacket(
					&CriticalErrorEvent{Reason: wrapped.Error()},
					EventRelayDestinationTopService,
					"BaseHandler",
				))
				return
			}
			h.Logger.With(map[string]any{"error": err.Error()}).Warn("provider failed, switched to backup service")
			if h.OnServiceSwitched != nil {
				h.OnServiceSwitched()
			}
			h.SendPacket(NewEventPacket(
				&WarningEvent{Reason: wrapped.Error()},
				EventRelayDestinationTopService,
				"BaseHandler",
			))
		case <-h.Ctx.Done():
			return
		}
	}
}
