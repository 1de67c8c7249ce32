// Package store persists run history and cached reference embeddings in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/facereel/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection and pgvector operations.
type Store struct {
	conn *pgx.Conn
}

// Run is one recorded conversion.
type Run struct {
	ID         uuid.UUID
	Source     string
	Target     string
	Output     string
	Status     string
	Processors []string
	Frames     int
	Failed     int
	Warnings   []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failure is one frame that failed under one processor.
type Failure struct {
	Processor string
	Index     int
	Reason    string
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the tables and vector extension if they don't exist.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			output TEXT NOT NULL,
			status TEXT NOT NULL,
			processors TEXT[] NOT NULL,
			frame_count INT NOT NULL DEFAULT 0,
			failed_count INT NOT NULL DEFAULT 0,
			warnings TEXT[] NOT NULL DEFAULT '{}',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS frame_failures (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID REFERENCES runs(id) ON DELETE CASCADE,
			processor TEXT NOT NULL,
			frame_index INT NOT NULL,
			reason TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS reference_embeddings (
			media_id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS frame_failures_run_id_idx ON frame_failures (run_id);
		CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs (started_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// RecordRun saves a finished run and the failures of each processor batch in one transaction.
// A zero run ID is replaced with a fresh one, which is returned.
func (s *Store) RecordRun(ctx context.Context, run Run, batches []types.BatchSummary) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Processors == nil {
		run.Processors = []string{}
	}
	if run.Warnings == nil {
		run.Warnings = []string{}
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (id, source, target, output, status, processors, frame_count, failed_count, warnings, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, run.ID, run.Source, run.Target, run.Output, run.Status, run.Processors,
		run.Frames, run.Failed, run.Warnings, run.StartedAt, run.FinishedAt)
	if err != nil {
		return uuid.Nil, err
	}

	batch := &pgx.Batch{}
	for _, b := range batches {
		for _, f := range b.Failures {
			batch.Queue(`INSERT INTO frame_failures (run_id, processor, frame_index, reason) VALUES ($1, $2, $3, $4)`,
				run.ID, b.Processor, f.Index, f.Reason)
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return uuid.Nil, err
		}
	}

	return run.ID, tx.Commit(ctx)
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id, source, target, output, status, processors, frame_count, failed_count, warnings, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Source, &r.Target, &r.Output, &r.Status, &r.Processors,
			&r.Frames, &r.Failed, &r.Warnings, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunFailures returns the recorded frame failures of a run in processor then frame order.
func (s *Store) RunFailures(ctx context.Context, id uuid.UUID) ([]Failure, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT processor, frame_index, reason FROM frame_failures
		WHERE run_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.Processor, &f.Index, &f.Reason); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// LookupReference returns the cached embedding for a subject image, or nil if none is stored.
func (s *Store) LookupReference(ctx context.Context, mediaID string) (types.Embedding, error) {
	var vecStr string
	err := s.conn.QueryRow(ctx, "SELECT embedding::text FROM reference_embeddings WHERE media_id = $1", mediaID).Scan(&vecStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseVector(vecStr)
}

// SaveReference caches the embedding computed for a subject image.
func (s *Store) SaveReference(ctx context.Context, mediaID, path string, emb types.Embedding) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO reference_embeddings (media_id, path, embedding)
		VALUES ($1, $2, $3::vector)
		ON CONFLICT (media_id) DO UPDATE SET embedding = EXCLUDED.embedding, path = EXCLUDED.path, created_at = NOW()
	`, mediaID, path, vecToString(emb))
	return err
}

// Reset drops all application tables to clear the database state.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS frame_failures CASCADE;
		DROP TABLE IF EXISTS runs CASCADE;
		DROP TABLE IF EXISTS reference_embeddings CASCADE;
	`)
	return err
}

// vecToString formats a float slice into a PostgreSQL vector string format "[1,2.5,...]".
// pgvector stores float4, so each element is written at full float32 precision.
func vecToString(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector reads the text form of a pgvector value.
func parseVector(s string) (types.Embedding, error) {
	s = strings.TrimSpace(strings.Trim(s, "[]"))
	if s == "" {
		return types.Embedding{}, nil
	}
	parts := strings.Split(s, ",")
	vec := make(types.Embedding, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector element %d: %w", i, err)
		}
		vec[i] = v
	}
	return vec, nil
}
