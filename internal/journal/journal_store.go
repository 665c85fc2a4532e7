// Package journal persists run reports in PostgreSQL.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"kicad-bakery/internal/localize"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bakery_runs (
		run_id        TEXT PRIMARY KEY,
		project_dir   TEXT NOT NULL,
		started_at    TIMESTAMPTZ NOT NULL,
		finished_at   TIMESTAMPTZ NOT NULL,
		aborted       BOOLEAN NOT NULL,
		abort_reason  TEXT NOT NULL,
		copied        INTEGER NOT NULL,
		reused        INTEGER NOT NULL,
		failed        INTEGER NOT NULL,
		substitutions INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bakery_failures (
		run_id   TEXT NOT NULL REFERENCES bakery_runs(run_id) ON DELETE CASCADE,
		category TEXT NOT NULL,
		item     TEXT NOT NULL,
		kind     TEXT NOT NULL,
		message  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bakery_backups (
		run_id     TEXT NOT NULL REFERENCES bakery_runs(run_id) ON DELETE CASCADE,
		original   TEXT NOT NULL,
		backup     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// Run is one journaled run.
type Run struct {
	RunID         string    `json:"run_id"`
	ProjectDir    string    `json:"project_dir"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Aborted       bool      `json:"aborted"`
	AbortReason   string    `json:"abort_reason,omitempty"`
	Copied        int       `json:"copied"`
	Reused        int       `json:"reused"`
	Failed        int       `json:"failed"`
	Substitutions int       `json:"substitutions"`
}

// Store records run reports.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL through the pgx database/sql driver.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping PostgreSQL: %w", err)
	}
	log.Info().Msg("Connected to PostgreSQL")
	return NewStore(db), nil
}

// NewStore wraps an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the journal tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create journal table: %w", err)
		}
	}
	return nil
}

// Record stores a report with its failures and backups in one transaction.
func (s *Store) Record(ctx context.Context, r *localize.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	total := r.Total()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bakery_runs (run_id, project_dir, started_at, finished_at, aborted, abort_reason, copied, reused, failed, substitutions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.RunID, r.ProjectDir, r.StartedAt, r.FinishedAt, r.Aborted, r.AbortReason,
		total.Copied, total.Reused, total.Failed, r.Substitutions())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, f := range r.Failures {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bakery_failures (run_id, category, item, kind, message)
			VALUES ($1, $2, $3, $4, $5)`,
			r.RunID, string(f.Category), f.Item, f.Kind, f.Message)
		if err != nil {
			return fmt.Errorf("insert failure: %w", err)
		}
	}

	for _, b := range r.Backups {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bakery_backups (run_id, original, backup, created_at)
			VALUES ($1, $2, $3, $4)`,
			r.RunID, b.Original, b.Backup, b.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert backup: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal: %w", err)
	}

	log.Info().Str("run", r.RunID).Int("failures", len(r.Failures)).Int("backups", len(r.Backups)).Msg("Journaled run")
	return nil
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, project_dir, started_at, finished_at, aborted, abort_reason, copied, reused, failed, substitutions
		FROM bakery_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.ProjectDir, &r.StartedAt, &r.FinishedAt, &r.Aborted, &r.AbortReason,
			&r.Copied, &r.Reused, &r.Failed, &r.Substitutions); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ExportJSON writes the latest runs to a JSON file.
func (s *Store) ExportJSON(ctx context.Context, outputPath string, limit int) error {
	runs, err := s.Recent(ctx, limit)
	if err != nil {
		return err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create JSON file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(runs); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}

	log.Info().Str("path", outputPath).Int("runs", len(runs)).Msg("Exported run journal to JSON")
	return nil
}
