package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"callpilot/core"
)

// SpoolStore writes call records to local JSON files. It backs two uses: a
// standalone store for development, and the retry queue the aggregator falls
// back to when the database write keeps failing. One file per session.
type SpoolStore struct {
	dir string
}

func NewSpoolStore(dir string) (*SpoolStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &SpoolStore{dir: dir}, nil
}

func (s *SpoolStore) SaveCallRecord(_ context.Context, record *core.CallRecord) error {
	data, err := sonic.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", core.ErrPersistence, err)
	}
	path := filepath.Join(s.dir, record.SessionID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	return nil
}

func (s *SpoolStore) TouchLastContacted(context.Context, string, time.Time) error {
	return nil
}

func (s *SpoolStore) Close() error { return nil }

// Pending lists the session ids of spooled records awaiting replay.
func (s *SpoolStore) Pending() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Load reads one spooled record back.
func (s *SpoolStore) Load(sessionID string) (*core.CallRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, sessionID+".json"))
	if err != nil {
		return nil, err
	}
	var record core.CallRecord
	if err := sonic.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Replay pushes every spooled record into target, removing files that persist
// successfully. Called at startup so a recovered database eventually receives
// everything.
func (s *SpoolStore) Replay(ctx context.Context, target CallRecordStore) error {
	ids, err := s.Pending()
	if err != nil {
		return err
	}
	for _, id := range ids {
		record, err := s.Load(id)
		if err != nil {
			return err
		}
		if err := target.SaveCallRecord(ctx, record); err != nil {
			return err
		}
		if err := os.Remove(filepath.Join(s.dir, id+".json")); err != nil {
			return err
		}
	}
	return nil
}
