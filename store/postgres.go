package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"callpilot/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore persists call records in Postgres. Structured sub-documents
// (transcript, responses, timelines) are stored as JSONB columns; the columns
// the CRUD layer queries on (participant, outcome, timing) are first-class.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.migrate(); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) migrate() error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveCallRecord(ctx context.Context, record *core.CallRecord) error {
	transcript, err := sonic.Marshal(record.Transcript)
	if err != nil {
		return fmt.Errorf("%w: encode transcript: %v", core.ErrPersistence, err)
	}
	responses, err := sonic.Marshal(record.Responses)
	if err != nil {
		return fmt.Errorf("%w: encode responses: %v", core.ErrPersistence, err)
	}
	sentiment, err := sonic.Marshal(record.Sentiment)
	if err != nil {
		return fmt.Errorf("%w: encode sentiment: %v", core.ErrPersistence, err)
	}
	goals, err := sonic.Marshal(record.Goals)
	if err != nil {
		return fmt.Errorf("%w: encode goals: %v", core.ErrPersistence, err)
	}
	whispers, err := sonic.Marshal(record.Whispers)
	if err != nil {
		return fmt.Errorf("%w: encode whispers: %v", core.ErrPersistence, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO call_records (
			session_id, participant, outcome, started_at, ended_at,
			duration_ms, transcript, responses, sentiment, goals,
			whispers, whisper_effectiveness, recording_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id) DO NOTHING`,
		record.SessionID, record.Participant, string(record.Outcome),
		record.StartedAt, record.EndedAt, record.Duration.Milliseconds(),
		transcript, responses, sentiment, goals, whispers,
		record.WhisperEffectiveness, record.RecordingRef,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	return nil
}

func (s *PostgresStore) TouchLastContacted(ctx context.Context, participant string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO participants (identity, last_contacted_at)
		VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET last_contacted_at = EXCLUDED.last_contacted_at`,
		participant, at,
	)
	if err != nil {
		return fmt.Errorf("touch last contacted: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
