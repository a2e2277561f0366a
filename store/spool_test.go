package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"callpilot/core"
)

type captureStore struct {
	mu      sync.Mutex
	records []*core.CallRecord
}

func (c *captureStore) SaveCallRecord(_ context.Context, record *core.CallRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	return nil
}

func (c *captureStore) TouchLastContacted(context.Context, string, time.Time) error { return nil }
func (c *captureStore) Close() error                                                { return nil }

func sampleRecord(sessionID string) *core.CallRecord {
	started := time.Unix(1700000000, 0).UTC()
	return &core.CallRecord{
		SessionID:   sessionID,
		Participant: "caller-7",
		Outcome:     core.OutcomeCompleted,
		StartedAt:   started,
		EndedAt:     started.Add(90 * time.Second),
		Duration:    90 * time.Second,
		Transcript: []core.Utterance{{
			ID:      "utt-1",
			Speaker: core.SpeakerHuman,
			Text:    "I'd like to cancel my subscription",
			Reason:  core.ReasonSilenceTimeout,
		}},
	}
}

func TestSpoolSaveLoadRoundTrip(t *testing.T) {
	spool, err := NewSpoolStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSpoolStore: %v", err)
	}

	record := sampleRecord("sess-1")
	if err := spool.SaveCallRecord(context.Background(), record); err != nil {
		t.Fatalf("SaveCallRecord: %v", err)
	}

	loaded, err := spool.Load("sess-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.SessionID != record.SessionID || loaded.Participant != record.Participant {
		t.Fatalf("loaded = %+v", loaded)
	}
	if len(loaded.Transcript) != 1 || loaded.Transcript[0].Text != record.Transcript[0].Text {
		t.Fatalf("transcript = %+v", loaded.Transcript)
	}
	if loaded.Outcome != core.OutcomeCompleted {
		t.Fatalf("outcome = %q", loaded.Outcome)
	}
}

func TestSpoolSaveOverwritesExisting(t *testing.T) {
	spool, err := NewSpoolStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSpoolStore: %v", err)
	}

	first := sampleRecord("sess-1")
	first.Outcome = core.OutcomeFailed
	if err := spool.SaveCallRecord(context.Background(), first); err != nil {
		t.Fatalf("first save: %v", err)
	}
	second := sampleRecord("sess-1")
	if err := spool.SaveCallRecord(context.Background(), second); err != nil {
		t.Fatalf("second save: %v", err)
	}

	ids, err := spool.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("pending = %v, want one entry", ids)
	}
	loaded, err := spool.Load("sess-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Outcome != core.OutcomeCompleted {
		t.Fatalf("outcome = %q, want overwritten record", loaded.Outcome)
	}
}

func TestSpoolPendingIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	spool, err := NewSpoolStore(dir)
	if err != nil {
		t.Fatalf("NewSpoolStore: %v", err)
	}
	if err := spool.SaveCallRecord(context.Background(), sampleRecord("sess-1")); err != nil {
		t.Fatalf("SaveCallRecord: %v", err)
	}
	// A stray temp file from an interrupted write must not show up as pending,
	// and neither should subdirectories.
	if err := os.WriteFile(filepath.Join(dir, "sess-2.json.tmp"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "archive"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	ids, err := spool.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(ids) != 1 || ids[0] != "sess-1" {
		t.Fatalf("pending = %v, want [sess-1]", ids)
	}
}

func TestSpoolReplayDrainsIntoTarget(t *testing.T) {
	spool, err := NewSpoolStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSpoolStore: %v", err)
	}
	for _, id := range []string{"sess-1", "sess-2", "sess-3"} {
		if err := spool.SaveCallRecord(context.Background(), sampleRecord(id)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	target := &captureStore{}
	if err := spool.Replay(context.Background(), target); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(target.records) != 3 {
		t.Fatalf("target received %d records, want 3", len(target.records))
	}
	ids, err := spool.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("pending after replay = %v, want empty", ids)
	}
}

func TestSpoolReplayEmptyDirIsNoop(t *testing.T) {
	spool, err := NewSpoolStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSpoolStore: %v", err)
	}
	target := &captureStore{}
	if err := spool.Replay(context.Background(), target); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(target.records) != 0 {
		t.Fatalf("target received %d records, want none", len(target.records))
	}
}
