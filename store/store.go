// Package store persists finalized call records. The primary implementation
// targets Postgres; a file-backed spool catches records whose write failed so
// transcript data survives a database outage.
package store

import (
	"context"
	"time"

	"callpilot/core"
)

// CallRecordStore is the persistence surface the orchestrator depends on.
// SaveCallRecord is called exactly once per session, at finalization;
// TouchLastContacted is the one incremental side effect permitted mid-call.
type CallRecordStore interface {
	SaveCallRecord(ctx context.Context, record *core.CallRecord) error
	TouchLastContacted(ctx context.Context, participant string, at time.Time) error
	Close() error
}
