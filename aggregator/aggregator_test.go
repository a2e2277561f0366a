package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callpilot/core"
	llmevents "callpilot/events/llm"
	playbackevents "callpilot/events/playback"
	sessionevents "callpilot/events/session"
	turnevents "callpilot/events/turn"
	whisperevents "callpilot/events/whisper"
	"callpilot/store"
)

type memoryStore struct {
	mu      sync.Mutex
	records []core.CallRecord
	touched []string
	failing bool
}

func (s *memoryStore) SaveCallRecord(_ context.Context, record *core.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("database unreachable")
	}
	s.records = append(s.records, *record)
	return nil
}

func (s *memoryStore) TouchLastContacted(_ context.Context, participant string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, participant)
	return nil
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) saved() []core.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.CallRecord(nil), s.records...)
}

func publish(bus *core.EventBus, event core.IEvent) {
	bus.Publish(core.NewEventPacket(event, core.EventRelayDestinationTopService, "test"))
}

func utterance(id, text string, endedAt time.Time) core.Utterance {
	return core.Utterance{
		ID:        id,
		Speaker:   core.SpeakerHuman,
		Text:      text,
		StartedAt: endedAt.Add(-time.Second),
		EndedAt:   endedAt,
		Reason:    core.ReasonSilenceTimeout,
	}
}

func TestAggregatorBuildsRecordIncrementally(t *testing.T) {
	bus := core.NewEventBus()
	recordStore := &memoryStore{}
	goals := []core.Goal{{ID: "confirm-email", Description: "confirm the email", Keywords: []string{"email"}}}

	agg := New(Config{
		SessionID:   "s1",
		Participant: "+15550100",
		Goals:       goals,
	}, bus, recordStore, nil, core.GetLogger())
	agg.Start()

	now := time.Now()
	publish(bus, &sessionevents.StateChangedEvent{SessionID: "s1", From: "connecting", To: "active"})
	publish(bus, &turnevents.TurnUtteranceFinalizedEvent{Utterance: utterance("u1", "hello there", now)})
	publish(bus, &turnevents.TurnUtteranceFinalizedEvent{Utterance: utterance("u1", "hello there", now)})
	publish(bus, &llmevents.LLMResponseCompletedEvent{Response: core.TurnResponse{
		ID:          "r1",
		UtteranceID: "u1",
		Text:        "hi, can you confirm your email?",
		GeneratedAt: now.Add(300 * time.Millisecond),
		Reason:      core.ReasonCompleted,
	}})
	publish(bus, &playbackevents.PlaybackCancelledEvent{ResponseID: "r1"})
	publish(bus, &whisperevents.WhisperFiredEvent{Suggestion: core.WhisperSuggestion{
		ID: "w1", TriggerID: "t1", Text: "ask for the email", Delivery: core.DeliveryOperator,
	}})

	record, err := agg.Finalize(context.Background(), core.OutcomeCompleted)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if len(record.Transcript) != 1 {
		t.Fatalf("transcript length = %d, want 1 (duplicate must be dropped)", len(record.Transcript))
	}
	if len(record.Responses) != 1 {
		t.Fatalf("responses length = %d, want 1", len(record.Responses))
	}
	if record.Responses[0].Reason != core.ReasonInterrupted {
		t.Fatalf("response reason = %q, want interrupted", record.Responses[0].Reason)
	}
	if len(record.Whispers) != 1 {
		t.Fatalf("whispers length = %d, want 1", len(record.Whispers))
	}
	if len(record.Sentiment) != 1 {
		t.Fatalf("sentiment length = %d, want 1", len(record.Sentiment))
	}
	if record.Goals[0].CompletedAt == nil {
		t.Fatal("goal should be completed by the assistant response text")
	}
	if record.Outcome != core.OutcomeCompleted {
		t.Fatalf("outcome = %q", record.Outcome)
	}

	// Utterance timestamps stay ahead of the response they caused.
	if record.Responses[0].GeneratedAt.Before(record.Transcript[0].EndedAt) {
		t.Fatal("response generated before its utterance ended")
	}

	saved := recordStore.saved()
	if len(saved) != 1 {
		t.Fatalf("store saved %d records, want 1", len(saved))
	}
}

func TestAggregatorPreservesPartialRecordOnFailure(t *testing.T) {
	bus := core.NewEventBus()
	recordStore := &memoryStore{}
	agg := New(Config{SessionID: "s2", Participant: "p"}, bus, recordStore, nil, core.GetLogger())
	agg.Start()

	now := time.Now()
	publish(bus, &turnevents.TurnUtteranceFinalizedEvent{Utterance: utterance("u1", "first", now)})
	publish(bus, &turnevents.TurnUtteranceFinalizedEvent{Utterance: utterance("u2", "second", now.Add(time.Second))})
	publish(bus, &turnevents.TurnUtteranceFinalizedEvent{Utterance: utterance("u3", "third", now.Add(2*time.Second))})

	record, err := agg.Finalize(context.Background(), core.OutcomeFailed)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if record.Outcome != core.OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", record.Outcome)
	}
	if len(record.Transcript) != 3 {
		t.Fatalf("transcript length = %d, want all 3 utterances", len(record.Transcript))
	}
}

func TestFinalizeSpoolsWhenStoreUnavailable(t *testing.T) {
	bus := core.NewEventBus()
	recordStore := &memoryStore{failing: true}
	spool, err := store.NewSpoolStore(t.TempDir())
	if err != nil {
		t.Fatalf("spool: %v", err)
	}

	agg := New(Config{
		SessionID:      "s3",
		Participant:    "p",
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
	}, bus, recordStore, spool, core.GetLogger())
	agg.Start()

	publish(bus, &turnevents.TurnUtteranceFinalizedEvent{Utterance: utterance("u1", "keep this", time.Now())})

	if _, err := agg.Finalize(context.Background(), core.OutcomeCompleted); err != nil {
		t.Fatalf("finalize should succeed via spool, got %v", err)
	}

	pending, err := spool.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending spool entries = %d, want 1", len(pending))
	}

	// Once the database is back, replay moves the record over.
	recordStore.failing = false
	if err := spool.Replay(context.Background(), recordStore); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if saved := recordStore.saved(); len(saved) != 1 || saved[0].SessionID != "s3" {
		t.Fatalf("replayed records = %+v", saved)
	}
	pending, _ = spool.Pending()
	if len(pending) != 0 {
		t.Fatalf("spool still has %d entries after replay", len(pending))
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	bus := core.NewEventBus()
	recordStore := &memoryStore{}
	agg := New(Config{SessionID: "s4", Participant: "p"}, bus, recordStore, nil, core.GetLogger())
	agg.Start()

	publish(bus, &turnevents.TurnUtteranceFinalizedEvent{Utterance: utterance("u1", "once", time.Now())})

	first, err := agg.Finalize(context.Background(), core.OutcomeCompleted)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	second, err := agg.Finalize(context.Background(), core.OutcomeCompleted)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if len(first.Transcript) != len(second.Transcript) {
		t.Fatal("second finalize changed the record")
	}
	if saved := recordStore.saved(); len(saved) != 1 {
		t.Fatalf("store saved %d records, want exactly 1", len(saved))
	}
}

func TestActiveTransitionTouchesLastContacted(t *testing.T) {
	bus := core.NewEventBus()
	recordStore := &memoryStore{}
	agg := New(Config{SessionID: "s5", Participant: "+15550123"}, bus, recordStore, nil, core.GetLogger())
	agg.Start()

	publish(bus, &sessionevents.StateChangedEvent{SessionID: "s5", From: "connecting", To: "active"})

	deadline := time.After(time.Second)
	for {
		recordStore.mu.Lock()
		touched := len(recordStore.touched)
		recordStore.mu.Unlock()
		if touched == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("TouchLastContacted was not called")
		case <-time.After(10 * time.Millisecond):
		}
	}

	agg.Finalize(context.Background(), core.OutcomeCompleted)
}
