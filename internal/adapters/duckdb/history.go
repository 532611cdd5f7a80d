package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/marcboeker/go-duckdb"

	"genforge/internal/core/domain"
)

// HistoryRepo persists finished generation records in an embedded DuckDB
// database. It is optional: when no database path is configured the
// lifecycle runs with a nil repository and records nothing.
type HistoryRepo struct {
	logger *slog.Logger
	db     *sql.DB
}

func NewHistoryRepo(logger *slog.Logger, path string) (*HistoryRepo, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb at %s: %w", path, err)
	}

	repo := &HistoryRepo{
		logger: logger.With("component", "history_repo"),
		db:     db,
	}
	if err := repo.init(); err != nil {
		db.Close()
		return nil, err
	}

	repo.logger.Info("history database ready", "path", path)
	return repo, nil
}

func (r *HistoryRepo) init() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS generations (
			id           VARCHAR PRIMARY KEY,
			file         VARCHAR NOT NULL,
			kind         VARCHAR NOT NULL,
			state        VARCHAR NOT NULL,
			backend      VARCHAR NOT NULL,
			diagnostic   VARCHAR,
			diff_preview VARCHAR,
			started_at   TIMESTAMP NOT NULL,
			finished_at  TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create generations table: %w", err)
	}
	return nil
}

func (r *HistoryRepo) SaveRecord(ctx context.Context, rec domain.GenerationRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO generations (id, file, kind, state, backend, diagnostic, diff_preview, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state        = excluded.state,
			diagnostic   = excluded.diagnostic,
			diff_preview = excluded.diff_preview,
			finished_at  = excluded.finished_at
	`, rec.ID, rec.File, rec.Kind, rec.State, rec.Backend,
		rec.Diagnostic, rec.DiffPreview, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("upsert generation record: %w", err)
	}

	return tx.Commit()
}

func (r *HistoryRepo) ListRecords(ctx context.Context, limit int) ([]domain.GenerationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, file, kind, state, backend, diagnostic, diff_preview, started_at, finished_at
		FROM generations
		ORDER BY finished_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query generation records: %w", err)
	}
	defer rows.Close()

	var records []domain.GenerationRecord
	for rows.Next() {
		var rec domain.GenerationRecord
		var diagnostic, preview sql.NullString
		if err := rows.Scan(&rec.ID, &rec.File, &rec.Kind, &rec.State, &rec.Backend,
			&diagnostic, &preview, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan generation record: %w", err)
		}
		rec.Diagnostic = diagnostic.String
		rec.DiffPreview = preview.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generation records: %w", err)
	}

	return records, nil
}

func (r *HistoryRepo) Close() error {
	return r.db.Close()
}
