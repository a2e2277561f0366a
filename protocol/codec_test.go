package protocol

import (
	"testing"
	"time"

	"callpilot/core"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	utterance := core.Utterance{
		ID:         "utt-1",
		Speaker:    core.SpeakerHuman,
		Text:       "hi, I'd like to check my order",
		Confidence: 0.93,
		StartedAt:  time.Unix(1700000000, 0).UTC(),
		EndedAt:    time.Unix(1700000002, 0).UTC(),
	}

	data, err := Marshal(MsgTranscript, "sess-1", TranscriptPayload{Utterance: utterance})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	msgType, raw, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msgType != MsgTranscript {
		t.Fatalf("type = %q, want %q", msgType, MsgTranscript)
	}

	payload, err := UnmarshalPayload[TranscriptPayload](raw)
	if err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}
	if payload.Utterance.ID != utterance.ID ||
		payload.Utterance.Text != utterance.Text ||
		payload.Utterance.Speaker != utterance.Speaker {
		t.Fatalf("utterance = %+v", payload.Utterance)
	}
	if !payload.Utterance.StartedAt.Equal(utterance.StartedAt) {
		t.Fatalf("StartedAt = %v, want %v", payload.Utterance.StartedAt, utterance.StartedAt)
	}
}

func TestMarshalNilPayloadOmitsField(t *testing.T) {
	data, err := Marshal(MsgEndCall, "sess-1", nil)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	msgType, raw, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msgType != MsgEndCall {
		t.Fatalf("type = %q, want %q", msgType, MsgEndCall)
	}
	if len(raw) != 0 {
		t.Fatalf("payload = %q, want empty", raw)
	}
}

func TestUnmarshalRejectsMissingType(t *testing.T) {
	if _, _, err := Unmarshal([]byte(`{"session_id":"sess-1"}`)); err == nil {
		t.Fatal("envelope without type accepted")
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, _, err := Unmarshal([]byte(`{not json`)); err == nil {
		t.Fatal("malformed JSON accepted")
	}
}

func TestInjectWhisperPayloadDefaults(t *testing.T) {
	payload, err := UnmarshalPayload[InjectWhisperPayload]([]byte(`{"text":"offer the discount"}`))
	if err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}
	if payload.Text != "offer the discount" {
		t.Fatalf("text = %q", payload.Text)
	}
	if payload.Delivery != "" {
		t.Fatalf("delivery = %q, want empty for default handling", payload.Delivery)
	}
}
