// Package sqlite keeps the usage log in a local SQLite file, for single-node
// deployments that want durable records without running PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/upb/llm-router/models"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

const usageColumns = `id, request_id, attempt, provider, model, prompt_tokens, completion_tokens,
	total_tokens, duration_ms, timestamp_ns, success, error_kind`

// Store is a usage repository backed by a SQLite database file
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and initializes the schema
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, path: path, logger: logger}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("sqlite usage store opened", zap.String("path", path))
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		timestamp_ns INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error_kind TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_usage_records_request_id ON usage_records(request_id);
	CREATE INDEX IF NOT EXISTS idx_usage_records_timestamp ON usage_records(timestamp_ns);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Insert appends a usage record
func (s *Store) Insert(ctx context.Context, record *models.UsageRecord) error {
	query := `INSERT INTO usage_records (` + usageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		record.ID.String(),
		record.RequestID,
		record.Attempt,
		record.Provider,
		record.Model,
		record.PromptTokens,
		record.CompletionTokens,
		record.TotalTokens,
		record.DurationMs,
		record.Timestamp.UnixNano(),
		record.Success,
		record.ErrorKind,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// GetByRequestID returns every attempt of a request, oldest first
func (s *Store) GetByRequestID(ctx context.Context, requestID string) ([]*models.UsageRecord, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_records
		WHERE request_id = ?
		ORDER BY attempt ASC, timestamp_ns ASC`

	rows, err := s.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	return scanUsageRecords(rows)
}

// ListRecent returns the newest records first
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*models.UsageRecord, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_records
		ORDER BY timestamp_ns DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	return scanUsageRecords(rows)
}

// HealthCheck pings the database
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite health check failed: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	s.logger.Info("closing sqlite usage store", zap.String("path", s.path))
	return s.db.Close()
}

func scanUsageRecords(rows *sql.Rows) ([]*models.UsageRecord, error) {
	var records []*models.UsageRecord
	for rows.Next() {
		var (
			rec = &models.UsageRecord{}
			ts  int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.RequestID,
			&rec.Attempt,
			&rec.Provider,
			&rec.Model,
			&rec.PromptTokens,
			&rec.CompletionTokens,
			&rec.TotalTokens,
			&rec.DurationMs,
			&ts,
			&rec.Success,
			&rec.ErrorKind,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage records: %w", err)
	}
	return records, nil
}
