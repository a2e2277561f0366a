// Package aggregator consumes the session event stream and builds the
// durable call record incrementally, so a crash mid-call still leaves a
// partial, consistent record. It is the one reliable subscriber on the bus:
// every finalized utterance reaches it before the pipeline moves on.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"callpilot/core"
	llmevents "callpilot/events/llm"
	playbackevents "callpilot/events/playback"
	sessionevents "callpilot/events/session"
	turnevents "callpilot/events/turn"
	whisperevents "callpilot/events/whisper"
	"callpilot/scoring"
	"callpilot/store"
)

type Config struct {
	SessionID   string
	Participant string
	Goals       []core.Goal
	// RetryAttempts bounds the persistence retries before the record is
	// spooled. Zero means 5.
	RetryAttempts uint64
	// RetryBaseDelay is the initial backoff. Zero means 500ms.
	RetryBaseDelay time.Duration
}

type Aggregator struct {
	config Config
	sub    *core.Subscription
	store  store.CallRecordStore
	spool  *store.SpoolStore
	logger *core.Logger

	sentimentScorer scoring.SentimentScorer
	effectScorer    scoring.EffectivenessScorer

	mu        sync.Mutex
	record    core.CallRecord
	seenUtt   map[string]bool
	respIdx   map[string]int
	goalIdx   map[string]int
	finalized bool

	stopOnce sync.Once
	stopC    chan struct{}
	doneC    chan struct{}
}

func New(
	config Config,
	bus *core.EventBus,
	recordStore store.CallRecordStore,
	spool *store.SpoolStore,
	logger *core.Logger,
) *Aggregator {
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 5
	}
	if config.RetryBaseDelay == 0 {
		config.RetryBaseDelay = 500 * time.Millisecond
	}
	a := &Aggregator{
		config:          config,
		sub:             bus.Subscribe("aggregator", 256, core.DeliveryReliable),
		store:           recordStore,
		spool:           spool,
		logger:          logger,
		sentimentScorer: scoring.NewLexiconSentimentScorer(),
		effectScorer:    scoring.NewDeltaEffectivenessScorer(),
		seenUtt:         make(map[string]bool),
		respIdx:         make(map[string]int),
		goalIdx:         make(map[string]int),
		stopC:           make(chan struct{}),
		doneC:           make(chan struct{}),
	}
	a.record = core.CallRecord{
		SessionID:   config.SessionID,
		Participant: config.Participant,
		StartedAt:   time.Now(),
	}
	for _, goal := range config.Goals {
		a.goalIdx[goal.ID] = len(a.record.Goals)
		a.record.Goals = append(a.record.Goals, core.GoalProgress{
			GoalID:      goal.ID,
			Description: goal.Description,
		})
	}
	return a
}

// WithScorers overrides the default scoring functions.
func (a *Aggregator) WithScorers(sentiment scoring.SentimentScorer, effectiveness scoring.EffectivenessScorer) *Aggregator {
	if sentiment != nil {
		a.sentimentScorer = sentiment
	}
	if effectiveness != nil {
		a.effectScorer = effectiveness
	}
	return a
}

// Start launches the consuming loop.
func (a *Aggregator) Start() {
	go a.run()
}

func (a *Aggregator) run() {
	defer close(a.doneC)
	for {
		select {
		case packet, ok := <-a.sub.C:
			if !ok {
				return
			}
			a.apply(packet)
		case <-a.stopC:
			return
		}
	}
}

func (a *Aggregator) apply(packet *core.EventPacket) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch event := packet.Event.(type) {
	case *turnevents.TurnUtteranceFinalizedEvent:
		a.applyUtterance(event.Utterance)

	case *llmevents.LLMResponseCompletedEvent:
		a.applyResponse(event.Response)

	case *playbackevents.PlaybackCancelledEvent:
		if idx, ok := a.respIdx[event.ResponseID]; ok {
			a.record.Responses[idx].Reason = core.ReasonInterrupted
		}

	case *whisperevents.WhisperFiredEvent:
		a.record.Whispers = append(a.record.Whispers, event.Suggestion)

	case *sessionevents.StateChangedEvent:
		if event.To == "active" {
			a.record.StartedAt = time.Now()
			go a.touchLastContacted()
		}
	}
}

func (a *Aggregator) applyUtterance(utterance core.Utterance) {
	if a.seenUtt[utterance.ID] {
		return
	}
	a.seenUtt[utterance.ID] = true
	a.record.Transcript = append(a.record.Transcript, utterance)

	score, err := a.sentimentScorer.Score(utterance)
	if err != nil {
		a.logger.Warnf("sentiment scoring failed for utterance %s: %v", utterance.ID, err)
		return
	}
	a.record.Sentiment = append(a.record.Sentiment, core.SentimentPoint{
		UtteranceID: utterance.ID,
		At:          utterance.EndedAt,
		Score:       score,
	})
	a.markGoals(utterance.Text, utterance.EndedAt)
}

func (a *Aggregator) applyResponse(response core.TurnResponse) {
	if _, ok := a.respIdx[response.ID]; ok {
		return
	}
	a.respIdx[response.ID] = len(a.record.Responses)
	a.record.Responses = append(a.record.Responses, response)
	a.markGoals(response.Text, response.GeneratedAt)
}

// markGoals satisfies goals on first keyword match. Completion is monotonic;
// a completed goal is never revisited.
func (a *Aggregator) markGoals(text string, at time.Time) {
	for _, goal := range a.config.Goals {
		idx, ok := a.goalIdx[goal.ID]
		if !ok || a.record.Goals[idx].CompletedAt != nil {
			continue
		}
		if goal.Matches(text) {
			completedAt := at
			a.record.Goals[idx].CompletedAt = &completedAt
		}
	}
}

func (a *Aggregator) touchLastContacted() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.TouchLastContacted(ctx, a.config.Participant, time.Now()); err != nil {
		a.logger.Warnf("touch last contacted: %v", err)
	}
}

// Snapshot returns a copy of the record built so far. Safe to call from any
// goroutine; used for partial durability checks and live inspection.
func (a *Aggregator) Snapshot() core.CallRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyRecordLocked()
}

func (a *Aggregator) copyRecordLocked() core.CallRecord {
	record := a.record
	record.Transcript = append([]core.Utterance(nil), a.record.Transcript...)
	record.Responses = append([]core.TurnResponse(nil), a.record.Responses...)
	record.Sentiment = append([]core.SentimentPoint(nil), a.record.Sentiment...)
	record.Goals = append([]core.GoalProgress(nil), a.record.Goals...)
	record.Whispers = append([]core.WhisperSuggestion(nil), a.record.Whispers...)
	return record
}

// Finalize stops consumption, drains whatever is still buffered, seals the
// record and persists it. The write is retried with exponential backoff; when
// the attempts are exhausted the record goes to the spool instead of being
// discarded. Finalize is idempotent; the record is returned either way so the
// caller always receives the partial transcript.
func (a *Aggregator) Finalize(ctx context.Context, outcome core.CallOutcome) (core.CallRecord, error) {
	a.stopOnce.Do(func() {
		close(a.stopC)
	})
	<-a.doneC

	// Drain events that were published before the pipeline stopped.
	for draining := true; draining; {
		select {
		case packet, ok := <-a.sub.C:
			if !ok {
				draining = false
				break
			}
			a.apply(packet)
		default:
			draining = false
		}
	}

	a.mu.Lock()
	if a.finalized {
		record := a.copyRecordLocked()
		a.mu.Unlock()
		return record, nil
	}
	a.finalized = true
	a.record.Outcome = outcome
	a.record.EndedAt = time.Now()
	a.record.Duration = a.record.EndedAt.Sub(a.record.StartedAt)
	a.record.WhisperEffectiveness = a.effectScorer.Score(
		a.record.Whispers, a.record.Sentiment, a.record.Goals,
	)
	record := a.copyRecordLocked()
	a.mu.Unlock()

	return record, a.persist(ctx, &record)
}

func (a *Aggregator) persist(ctx context.Context, record *core.CallRecord) error {
	backoff := retry.WithMaxRetries(
		a.config.RetryAttempts,
		retry.NewExponential(a.config.RetryBaseDelay),
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := a.store.SaveCallRecord(ctx, record); err != nil {
			a.logger.Warnf("call record write failed, will retry: %v", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		a.logger.With(map[string]any{
			"session_id": record.SessionID,
			"utterances": len(record.Transcript),
		}).Info("call record persisted")
		return nil
	}
	if a.spool == nil {
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	if spoolErr := a.spool.SaveCallRecord(ctx, record); spoolErr != nil {
		return fmt.Errorf("%w: store: %v, spool: %v", core.ErrPersistence, err, spoolErr)
	}
	a.logger.Warnf("call record spooled for replay after persistent store failure: %v", err)
	return nil
}
