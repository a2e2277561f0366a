package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"callpilot/aggregator"
	"callpilot/core"
	sessionevents "callpilot/events/session"
	transportevents "callpilot/events/transport"
	ttsevents "callpilot/events/tts"
	whisperevents "callpilot/events/whisper"
	"callpilot/store"
	"callpilot/whisper"
)

const driverName = "session"

// Config bundles everything a session needs besides its handler chain.
type Config struct {
	SessionID   string
	Participant string
	// FirstMessage is spoken by the assistant as soon as the transport
	// connects. Empty means the assistant waits for the caller to speak.
	FirstMessage string
	// ConnectTimeout bounds the Connecting state. Zero means 15s.
	ConnectTimeout   time.Duration
	Goals            []core.Goal
	WhisperTemplates []whisper.Template
}

type commandKind int

const (
	cmdConnected commandKind = iota
	cmdEnd
	cmdFatal
)

type command struct {
	kind   commandKind
	reason string
}

// Session drives one call end to end: it owns the state machine, starts and
// stops the handler pipeline, and seals the call record when the call ends.
// All transitions happen on a single driver goroutine; boundary events from
// the pipeline arrive as commands on a channel, so transition races (for
// example a hangup landing while a provider failure is being handled) resolve
// by arrival order.
type Session struct {
	config   Config
	bus      *core.EventBus
	runner   *Runner
	agg      *aggregator.Aggregator
	injector *whisper.Injector
	logger   *core.Logger

	commands chan command
	cancel   context.CancelFunc
	doneC    chan struct{}

	mu     sync.Mutex
	state  State
	record core.CallRecord
	err    error
}

// New assembles a session over the ordered handler chain. The handlers are
// not started until Start.
func New(
	config Config,
	handlers []core.IHandler,
	recordStore store.CallRecordStore,
	spool *store.SpoolStore,
	logger *core.Logger,
) *Session {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 15 * time.Second
	}
	logger = logger.With(map[string]any{"session_id": config.SessionID})

	s := &Session{
		config:   config,
		bus:      core.NewEventBus(),
		logger:   logger,
		commands: make(chan command, 16),
		doneC:    make(chan struct{}),
		state:    StateCreated,
	}
	s.runner = NewRunner(handlers, s.bus, s.control, logger)
	s.agg = aggregator.New(aggregator.Config{
		SessionID:   config.SessionID,
		Participant: config.Participant,
		Goals:       config.Goals,
	}, s.bus, recordStore, spool, logger)
	s.injector = whisper.NewInjector(whisper.Config{
		Templates: config.WhisperTemplates,
		Goals:     config.Goals,
	}, s.bus, s.injectPrompt, nil, logger)
	return s
}

// Start moves the session to Connecting and launches the pipeline. Handler
// startup failures are reported synchronously; once Start returns nil the
// session only terminates through the driver loop.
func (s *Session) Start(parent context.Context) error {
	if err := s.transition(StateConnecting, "starting"); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	if err := s.runner.Start(ctx); err != nil {
		s.transition(StateFailed, err.Error())
		cancel()
		s.bus.Close()
		close(s.doneC)
		s.setErr(err)
		return fmt.Errorf("starting pipeline: %w", err)
	}
	s.agg.Start()
	s.injector.Start(ctx)

	go s.run(ctx)
	return nil
}

func (s *Session) run(ctx context.Context) {
	connectTimer := time.NewTimer(s.config.ConnectTimeout)
	defer connectTimer.Stop()

	for {
		select {
		case cmd := <-s.commands:
			switch cmd.kind {
			case cmdConnected:
				connectTimer.Stop()
				s.onConnected()
			case cmdEnd:
				if s.State() == StateConnecting {
					s.fail(ctx, cmd.reason)
					return
				}
				s.end(ctx, cmd.reason)
				return
			case cmdFatal:
				s.fail(ctx, cmd.reason)
				return
			}
		case <-connectTimer.C:
			if s.State() == StateConnecting {
				s.fail(ctx, core.ErrConnectionTimeout.Error())
				return
			}
		case <-ctx.Done():
			s.fail(ctx, ctx.Err().Error())
			return
		}
	}
}

func (s *Session) onConnected() {
	if err := s.transition(StateActive, "transport connected"); err != nil {
		s.logger.Warn("ignoring duplicate connect", "error", err.Error())
		return
	}
	if s.config.FirstMessage != "" {
		s.runner.InjectTop(core.NewEventPacket(
			&ttsevents.TTSSpeakEvent{Text: s.config.FirstMessage},
			core.EventRelayDestinationNextService,
			driverName,
		))
	}
}

// end runs the graceful teardown: Ending, pipeline stop, record finalize,
// Completed.
func (s *Session) end(ctx context.Context, reason string) {
	if err := s.transition(StateEnding, reason); err != nil {
		return
	}
	s.shutdown(ctx, core.OutcomeCompleted, reason)
	s.transition(StateCompleted, reason)
	s.finish()
}

// fail is the abrupt path: the record is still finalized so every utterance
// observed so far is preserved.
func (s *Session) fail(ctx context.Context, reason string) {
	if err := s.transition(StateFailed, reason); err != nil {
		return
	}
	s.setErr(fmt.Errorf("session failed: %s", reason))
	s.shutdown(ctx, core.OutcomeFailed, reason)
	s.finish()
}

func (s *Session) shutdown(ctx context.Context, outcome core.CallOutcome, reason string) {
	if err := s.runner.Stop(); err != nil {
		s.logger.Warn("pipeline stop reported error", "error", err.Error())
	}

	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	record, err := s.agg.Finalize(finalizeCtx, outcome)
	if err != nil {
		s.logger.Error("record persistence failed", "error", err.Error())
	}
	s.mu.Lock()
	s.record = record
	s.mu.Unlock()

	s.bus.Publish(core.NewEventPacket(
		&sessionevents.RecordFinalizedEvent{
			SessionID: s.config.SessionID,
			Outcome:   string(outcome),
		},
		core.EventRelayDestinationTopService,
		driverName,
	))
}

func (s *Session) finish() {
	if s.cancel != nil {
		s.cancel()
	}
	s.bus.Close()
	close(s.doneC)
}

// control watches every packet crossing the pipeline boundary and turns the
// lifecycle-relevant ones into driver commands. It runs on the runner's
// goroutine, so it must never block.
func (s *Session) control(packet *core.EventPacket) {
	switch event := packet.Event.(type) {
	case *transportevents.TransportConnectedEvent:
		s.submit(command{kind: cmdConnected})
	case *transportevents.TransportHangupEvent:
		s.submit(command{kind: cmdEnd, reason: event.Reason})
	case *transportevents.TransportDisconnectedEvent:
		s.submit(command{kind: cmdEnd, reason: event.Reason})
	case *core.EndCallEvent:
		s.submit(command{kind: cmdEnd, reason: event.Reason})
	case *core.CriticalErrorEvent:
		s.submit(command{kind: cmdFatal, reason: event.Reason})
	}
}

func (s *Session) submit(cmd command) {
	select {
	case s.commands <- cmd:
	default:
		// The driver is already tearing down; queued terminal commands
		// would be no-ops anyway.
		s.logger.Debug("dropping session command", "kind", int(cmd.kind))
	}
}

// injectPrompt pushes a whisper instruction into the pipeline so the LLM
// handler folds it into the next generation.
func (s *Session) injectPrompt(text string) {
	s.runner.InjectTop(core.NewEventPacket(
		&whisperevents.WhisperPromptEvent{Text: text},
		core.EventRelayDestinationNextService,
		driverName,
	))
}

// transition applies a state change and publishes it. It returns an error
// when the edge is not allowed, leaving the state untouched.
func (s *Session) transition(to State, reason string) error {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("invalid transition %s -> %s", from, to)
	}
	s.state = to
	s.mu.Unlock()

	s.logger.Info("session state changed", "from", from.String(), "to", to.String(), "reason", reason)
	s.bus.Publish(core.NewEventPacket(
		&sessionevents.StateChangedEvent{
			SessionID: s.config.SessionID,
			From:      from.String(),
			To:        to.String(),
			Reason:    reason,
		},
		core.EventRelayDestinationTopService,
		driverName,
	))
	return nil
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches a terminal state and the record is
// sealed.
func (s *Session) Done() <-chan struct{} {
	return s.doneC
}

// Err reports why the session failed. Nil for completed sessions.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Record returns the sealed call record. Valid after Done is closed; before
// that it returns a live snapshot.
func (s *Session) Record() core.CallRecord {
	select {
	case <-s.doneC:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.record
	default:
		return s.agg.Snapshot()
	}
}

// Subscribe attaches a best-effort consumer (operator UI, monitoring) to the
// session event stream. The channel closes when the session ends.
func (s *Session) Subscribe(name string, buffer int) *core.Subscription {
	return s.bus.Subscribe(name, buffer, core.DeliveryBestEffort)
}

// InjectWhisper delivers an operator-authored coaching suggestion.
func (s *Session) InjectWhisper(text string, delivery core.WhisperDelivery) core.WhisperSuggestion {
	return s.injector.InjectOperator(text, delivery)
}

// End requests a graceful hangup. The end-call event travels the whole chain
// first so open turns are finalized and the transport says goodbye before the
// pipeline stops.
func (s *Session) End(reason string) {
	s.runner.InjectTop(core.NewEventPacket(
		&core.EndCallEvent{Reason: reason},
		core.EventRelayDestinationNextService,
		driverName,
	))
}
