package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/termidl/internal/storage"
	"github.com/italolelis/termidl/internal/telemetry"
)

// InstrumentedHistoryRepository wraps HistoryRepository with telemetry.
type InstrumentedHistoryRepository struct {
	repo      *HistoryRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedHistoryRepository creates a new instrumented history repository.
func NewInstrumentedHistoryRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedHistoryRepository {
	return &InstrumentedHistoryRepository{
		repo:      NewHistoryRepository(dbConn),
		telemetry: tel,
	}
}

// RecordFinished records a finished task with telemetry.
func (r *InstrumentedHistoryRepository) RecordFinished(ctx context.Context, rec storage.HistoryRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_finished", func(ctx context.Context) error {
		return r.repo.RecordFinished(ctx, rec)
	})
}

// ListHistory lists finished tasks with telemetry.
func (r *InstrumentedHistoryRepository) ListHistory(ctx context.Context, limit int) ([]storage.HistoryRecord, error) {
	var result []storage.HistoryRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_history", func(ctx context.Context) error {
		var err error

		result, err = r.repo.ListHistory(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetRecord fetches one record with telemetry.
func (r *InstrumentedHistoryRepository) GetRecord(ctx context.Context, sessionID string, taskID int64) (storage.HistoryRecord, error) {
	var result storage.HistoryRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_record", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetRecord(ctx, sessionID, taskID)

		return err
	})

	return result, err
}

var _ storage.HistoryRepository = (*InstrumentedHistoryRepository)(nil)
