package session

import (
	"context"

	"callpilot/core"
)

// Runner wires the handler chain: each handler's next-output feeds the
// following handler's input, top-destined packets are echoed back into the
// first handler's input so they traverse the whole chain, and everything
// leaving the chain is published on the event bus for the out-of-band
// consumers (aggregator, whisper injector, caller subscriptions).
type Runner struct {
	Handlers []core.IHandler

	bus     *core.EventBus
	control func(*core.EventPacket)
	logger  *core.Logger

	ctx            context.Context
	cancel         context.CancelFunc
	topOutputChan  chan *core.EventPacket
	lastOutputChan chan *core.EventPacket
	firstInputChan chan *core.EventPacket
	outputsDone    chan struct{}
}

// NewRunner builds a runner over the ordered handler chain. control is
// invoked for every packet seen at the chain boundary; the session driver
// uses it to watch for connect, hangup and critical-error events.
func NewRunner(handlers []core.IHandler, bus *core.EventBus, control func(*core.EventPacket), logger *core.Logger) *Runner {
	return &Runner{
		Handlers: handlers,
		bus:      bus,
		control:  control,
		logger:   logger,
	}
}

func (r *Runner) Start(parent context.Context) error {
	if len(r.Handlers) == 0 {
		return nil
	}

	r.ctx, r.cancel = context.WithCancel(parent)
	r.topOutputChan = make(chan *core.EventPacket, 100)
	r.lastOutputChan = make(chan *core.EventPacket, 100)

	inputChans := make([]chan *core.EventPacket, len(r.Handlers))
	for i := range inputChans {
		inputChans[i] = make(chan *core.EventPacket, 100)
	}
	r.firstInputChan = inputChans[0]

	for i, handler := range r.Handlers {
		var outputNextChan chan<- *core.EventPacket
		if i < len(r.Handlers)-1 {
			outputNextChan = inputChans[i+1]
		} else {
			outputNextChan = r.lastOutputChan
		}

		if err := handler.Initialize(inputChans[i], outputNextChan, r.topOutputChan, r.ctx); err != nil {
			r.cancel()
			return err
		}
		if err := handler.Start(); err != nil {
			r.cancel()
			return err
		}
	}

	r.outputsDone = make(chan struct{})
	go r.listenToOutputs()
	return nil
}

// echoRelayer marks packets the runner re-injected at the chain head. They
// already crossed the boundary once; when they fall out the end of the chain
// they are dropped instead of being published a second time.
const echoRelayer = "runner.echo"

func (r *Runner) listenToOutputs() {
	defer close(r.outputsDone)
	for {
		select {
		case packet := <-r.lastOutputChan:
			if packet.Relayer != echoRelayer {
				r.tap(packet)
			}
		case packet := <-r.topOutputChan:
			r.tap(packet)
			r.echoToTop(packet)
		case <-r.ctx.Done():
			return
		}
	}
}

// tap publishes a boundary packet to the bus and hands it to the session
// driver's control watcher.
func (r *Runner) tap(packet *core.EventPacket) {
	if r.control != nil {
		r.control(packet)
	}
	if r.bus != nil {
		r.bus.Publish(packet)
	}
}

// echoToTop re-enters a top-destined packet at the head of the chain so every
// handler observes it. The clone travels with a next-service destination and
// the echo marker, so it runs the chain exactly once. Critical errors stay
// with the driver; re-running them through the pipeline would only recurse.
func (r *Runner) echoToTop(packet *core.EventPacket) {
	if _, ok := packet.Event.(*core.CriticalErrorEvent); ok {
		return
	}
	echo := &core.EventPacket{
		Event:       packet.Event,
		Destination: core.EventRelayDestinationNextService,
		Uid:         packet.Uid,
		Relayer:     echoRelayer,
	}
	select {
	case r.firstInputChan <- echo:
	case <-r.ctx.Done():
	}
}

// InjectTop pushes an externally-created packet into the head of the chain.
// The whisper injector and the session driver (first message, end call) use
// it.
func (r *Runner) InjectTop(packet *core.EventPacket) {
	if r.firstInputChan == nil {
		return
	}
	select {
	case r.firstInputChan <- packet:
	case <-r.ctx.Done():
	}
}

// Stop cancels the chain and waits for the output loop to finish, so no tap
// can still be publishing when the caller tears down the bus.
func (r *Runner) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.outputsDone != nil {
		<-r.outputsDone
	}
	var firstErr error
	for _, handler := range r.Handlers {
		if err := handler.Cleanup(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
