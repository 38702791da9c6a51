package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/termidl/internal/storage"
)

const selectColumns = `session_id, task_id, url, backend, destination_path, display_name, status, message, created_at, finished_at`

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(dbConn *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: dbConn}
}

// RecordFinished upserts the record keyed by session and task id.
func (r *HistoryRepository) RecordFinished(ctx context.Context, rec storage.HistoryRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO history (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, task_id) DO UPDATE SET
			display_name = excluded.display_name,
			status = excluded.status,
			message = excluded.message,
			finished_at = excluded.finished_at
	`,
		rec.SessionID, rec.TaskID, rec.URL, rec.Backend, rec.DestinationPath,
		rec.DisplayName, rec.Status, rec.Message,
		formatTime(rec.CreatedAt), formatTime(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}

	return nil
}

func (r *HistoryRepository) ListHistory(ctx context.Context, limit int) ([]storage.HistoryRecord, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM history ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []storage.HistoryRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	return records, nil
}

func (r *HistoryRepository) GetRecord(ctx context.Context, sessionID string, taskID int64) (storage.HistoryRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM history WHERE session_id = ? AND task_id = ?`, sessionID, taskID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.HistoryRecord{}, storage.ErrNotFound
	}

	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (storage.HistoryRecord, error) {
	var (
		rec                 storage.HistoryRecord
		displayName, msg    sql.NullString
		createdAt, finished string
	)

	err := s.Scan(&rec.SessionID, &rec.TaskID, &rec.URL, &rec.Backend, &rec.DestinationPath,
		&displayName, &rec.Status, &msg, &createdAt, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}

		return rec, fmt.Errorf("failed to scan history record: %w", err)
	}

	rec.DisplayName = displayName.String
	rec.Message = msg.String

	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return rec, err
	}

	if rec.FinishedAt, err = parseTime(finished); err != nil {
		return rec, err
	}

	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}

	return t, nil
}
