// Package store persists run events. Every step boundary of a workflow run is
// appended to the run_events table; rows are never updated.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS run_events (
            id          BIGSERIAL PRIMARY KEY,
            run_id      UUID NOT NULL,
            status      TEXT NOT NULL,
            details     JSONB NOT NULL DEFAULT '{}'::jsonb,
            recorded_at TIMESTAMPTZ NOT NULL
        )`
	sqlCreateIndex = `CREATE INDEX IF NOT EXISTS run_events_run_id_idx ON run_events (run_id, id)`
	sqlInsertEvent = `
        INSERT INTO run_events (run_id, status, details, recorded_at)
        VALUES ($1, $2, $3, $4)`
)

// Store writes run events to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

// Connect opens a pgx pool for url, prepares the schema and returns the store
// together with a function that closes the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// EnsureSchema creates the run_events table and its index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{sqlCreateTable, sqlCreateIndex} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare run_events schema: %w", err)
		}
	}
	return nil
}

// WriteRunEvent appends one event for runID.
func (s *Store) WriteRunEvent(ctx context.Context, runID uuid.UUID, status string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode event details: %w", err)
	}

	tag, err := s.pool.Exec(ctx, sqlInsertEvent, runID, status, payload, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run event: %w", err)
	}
	if tag.RowsAffected() != 1 {
		s.log.Warn("Run event insert affected an unexpected number of rows",
			zap.String("run_id", runID.String()),
			zap.Int64("rows", tag.RowsAffected()))
	}
	return nil
}

// LogWriter records run events in the log only. It is used when no database
// is configured.
type LogWriter struct {
	log *zap.Logger
}

// NewLogWriter creates a LogWriter.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{log: logger.Named("events")}
}

func (w *LogWriter) WriteRunEvent(_ context.Context, runID uuid.UUID, status string, details map[string]any) error {
	fields := make([]zap.Field, 0, len(details)+2)
	fields = append(fields, zap.String("run_id", runID.String()), zap.String("status", status))
	for k, v := range details {
		fields = append(fields, zap.Any(k, v))
	}
	w.log.Info("Run event", fields...)
	return nil
}
