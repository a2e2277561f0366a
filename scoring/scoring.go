// Package scoring holds the pluggable scoring functions used by the call
// record pipeline. The exact formulas are product-tunable; callers depend on
// the interfaces, the lexicon implementations are the defaults.
package scoring

import (
	"strings"

	"callpilot/core"
)

// SentimentScorer maps an utterance to a score in [-1, 1].
type SentimentScorer interface {
	Score(utterance core.Utterance) (float64, error)
}

// EffectivenessScorer rates how much the whispers moved the call, given the
// full sentiment timeline and the goal progress, as a value in [0, 1].
type EffectivenessScorer interface {
	Score(whispers []core.WhisperSuggestion, sentiment []core.SentimentPoint, goals []core.GoalProgress) float64
}

// LexiconSentimentScorer is a word-list scorer: the balance of positive and
// negative tokens, normalized by the count of matched tokens.
type LexiconSentimentScorer struct {
	Positive map[string]struct{}
	Negative map[string]struct{}
}

func NewLexiconSentimentScorer() *LexiconSentimentScorer {
	return &LexiconSentimentScorer{
		Positive: wordSet(
			"great", "good", "yes", "sure", "thanks", "thank", "perfect",
			"love", "happy", "excellent", "awesome", "interested", "wonderful",
			"absolutely", "definitely", "nice", "helpful",
		),
		Negative: wordSet(
			"no", "not", "bad", "never", "hate", "angry", "annoyed", "stop",
			"terrible", "awful", "busy", "expensive", "problem", "worst",
			"unsubscribe", "scam", "waste",
		),
	}
}

func (s *LexiconSentimentScorer) Score(utterance core.Utterance) (float64, error) {
	words := strings.Fields(strings.ToLower(utterance.Text))
	var positive, negative int
	for _, word := range words {
		word = strings.Trim(word, ".,!?;:'\"")
		if _, ok := s.Positive[word]; ok {
			positive++
		}
		if _, ok := s.Negative[word]; ok {
			negative++
		}
	}
	matched := positive + negative
	if matched == 0 {
		return 0, nil
	}
	return float64(positive-negative) / float64(matched), nil
}

// DeltaEffectivenessScorer correlates each whisper with the sentiment change
// and goal completions that follow it within its window.
type DeltaEffectivenessScorer struct {
	// Window bounds how far after a whisper a sentiment delta or goal
	// completion still counts as influenced by it, in seconds.
	WindowSeconds float64
}

func NewDeltaEffectivenessScorer() *DeltaEffectivenessScorer {
	return &DeltaEffectivenessScorer{WindowSeconds: 120}
}

func (s *DeltaEffectivenessScorer) Score(
	whispers []core.WhisperSuggestion,
	sentiment []core.SentimentPoint,
	goals []core.GoalProgress,
) float64 {
	if len(whispers) == 0 {
		return 0
	}
	var total float64
	for _, whisper := range whispers {
		total += s.whisperScore(whisper, sentiment, goals)
	}
	score := total / float64(len(whispers))
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func (s *DeltaEffectivenessScorer) whisperScore(
	whisper core.WhisperSuggestion,
	sentiment []core.SentimentPoint,
	goals []core.GoalProgress,
) float64 {
	var before, after float64
	var haveBefore, haveAfter bool
	for _, point := range sentiment {
		if point.At.Before(whisper.FiredAt) {
			before = point.Score
			haveBefore = true
			continue
		}
		if point.At.Sub(whisper.FiredAt).Seconds() <= s.WindowSeconds && !haveAfter {
			after = point.Score
			haveAfter = true
		}
	}

	var score float64
	if haveBefore && haveAfter {
		// A positive sentiment delta after the whisper counts toward it.
		score += (after - before) / 2
	}
	for _, goal := range goals {
		if goal.CompletedAt == nil {
			continue
		}
		elapsed := goal.CompletedAt.Sub(whisper.FiredAt).Seconds()
		if elapsed >= 0 && elapsed <= s.WindowSeconds {
			score += 0.5
		}
	}
	return score
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}
