// Package whisper evaluates coaching triggers against the live event stream
// and surfaces suggestions on a side channel. The injector is deliberately
// decoupled from the audio pipeline: it consumes a best-effort subscription,
// so a slow evaluation delays or drops a suggestion but never backpressures
// the conversation.
package whisper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"callpilot/core"
	llmevents "callpilot/events/llm"
	turnevents "callpilot/events/turn"
	whisperevents "callpilot/events/whisper"
	"callpilot/scoring"
)

type Config struct {
	Templates []Template
	Goals     []core.Goal
	// EvalInterval drives the time-based triggers. Zero means one second.
	EvalInterval time.Duration
}

// Injector consumes session events and emits WhisperSuggestions. Prompt
// injections are pushed to the pipeline top through the inject callback;
// every firing is also published back on the bus for the aggregator and any
// operator UI.
type Injector struct {
	config Config
	bus    *core.EventBus
	sub    *core.Subscription
	inject func(text string)
	scorer scoring.SentimentScorer
	logger *core.Logger

	startedAt     time.Time
	fired         map[string]time.Time
	goalsDone     map[string]bool
	lastSentiment float64
	haveSentiment bool
}

func NewInjector(
	config Config,
	bus *core.EventBus,
	inject func(text string),
	scorer scoring.SentimentScorer,
	logger *core.Logger,
) *Injector {
	if config.EvalInterval == 0 {
		config.EvalInterval = time.Second
	}
	if scorer == nil {
		scorer = scoring.NewLexiconSentimentScorer()
	}
	return &Injector{
		config:    config,
		bus:       bus,
		sub:       bus.Subscribe("whisper-injector", 64, core.DeliveryBestEffort),
		inject:    inject,
		scorer:    scorer,
		logger:    logger,
		fired:     make(map[string]time.Time),
		goalsDone: make(map[string]bool),
	}
}

// Start launches the evaluation loop. It returns immediately; the loop exits
// when ctx is cancelled.
func (i *Injector) Start(ctx context.Context) {
	i.startedAt = time.Now()
	go i.run(ctx)
}

func (i *Injector) run(ctx context.Context) {
	ticker := time.NewTicker(i.config.EvalInterval)
	defer ticker.Stop()
	for {
		select {
		case packet, ok := <-i.sub.C:
			if !ok {
				return
			}
			i.observe(packet)
		case <-ticker.C:
			i.evaluateTimeTriggers()
		case <-ctx.Done():
			return
		}
	}
}

// InjectOperator fires an operator-authored whisper immediately, bypassing
// template evaluation. Used by the control surface during a live call.
func (i *Injector) InjectOperator(text string, delivery core.WhisperDelivery) core.WhisperSuggestion {
	if delivery == "" {
		delivery = core.DeliveryPrompt
	}
	return i.emit(Template{
		ID:       "operator/" + uuid.New().String(),
		Text:     text,
		Delivery: delivery,
	})
}

func (i *Injector) observe(packet *core.EventPacket) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Warnf("whisper evaluation dropped: %v", fmt.Errorf("%w: %v", core.ErrWhisperEvaluation, r))
		}
	}()

	switch event := packet.Event.(type) {
	case *turnevents.TurnUtteranceFinalizedEvent:
		i.markGoals(event.Utterance.Text)
		score, err := i.scorer.Score(event.Utterance)
		if err != nil {
			i.logger.Warnf("whisper evaluation dropped: %v", fmt.Errorf("%w: %v", core.ErrWhisperEvaluation, err))
			return
		}
		i.lastSentiment = score
		i.haveSentiment = true
		i.evaluateSentimentTriggers()

	case *llmevents.LLMResponseCompletedEvent:
		i.markGoals(event.Response.Text)
	}
}

func (i *Injector) markGoals(text string) {
	for _, goal := range i.config.Goals {
		if i.goalsDone[goal.ID] {
			continue
		}
		if goal.Matches(text) {
			i.goalsDone[goal.ID] = true
		}
	}
}

func (i *Injector) evaluateTimeTriggers() {
	elapsed := time.Since(i.startedAt)
	for _, template := range i.config.Templates {
		switch template.Kind {
		case KindElapsed, KindTransparency:
			if elapsed >= template.After {
				i.fire(template)
			}
		case KindGoal:
			if elapsed >= template.After && !i.goalsDone[template.GoalID] {
				i.fire(template)
			}
		}
	}
}

func (i *Injector) evaluateSentimentTriggers() {
	if !i.haveSentiment {
		return
	}
	for _, template := range i.config.Templates {
		if template.Kind != KindSentiment {
			continue
		}
		if i.lastSentiment <= template.Threshold {
			i.fire(template)
		}
	}
}

// fire applies the deduplication and staleness rules, then emits.
func (i *Injector) fire(template Template) {
	if firedAt, ok := i.fired[template.ID]; ok {
		if !template.Repeatable {
			return
		}
		if template.RelevanceWindow <= 0 || time.Since(firedAt) < template.RelevanceWindow {
			return
		}
	}
	// A goal reminder that raced its own goal completion is stale.
	if template.Kind == KindGoal && i.goalsDone[template.GoalID] {
		return
	}
	i.fired[template.ID] = time.Now()
	i.emit(template)
}

func (i *Injector) emit(template Template) core.WhisperSuggestion {
	suggestion := core.WhisperSuggestion{
		ID:        uuid.New().String(),
		TriggerID: template.ID,
		Text:      template.Text,
		Delivery:  template.Delivery,
		FiredAt:   time.Now(),
	}
	i.logger.With(map[string]any{
		"trigger":  template.ID,
		"delivery": string(template.Delivery),
	}).Info("whisper fired")

	if template.Delivery == core.DeliveryPrompt && i.inject != nil {
		i.inject(template.Text)
	}
	i.bus.Publish(core.NewEventPacket(&whisperevents.WhisperFiredEvent{
		Suggestion: suggestion,
	}, core.EventRelayDestinationNextService, "WhisperInjector"))
	return suggestion
}
