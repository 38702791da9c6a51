package storage

import (
	"context"

	"github.com/italolelis/termidl/internal/logctx"
	"github.com/italolelis/termidl/internal/task"
)

// RecordHistory journals every task that reaches a terminal state until events is
// closed or ctx is done. Write failures are logged and never stop the loop.
func RecordHistory(ctx context.Context, sessionID string, events <-chan task.Event, repo HistoryWriteRepository) {
	logger := logctx.LoggerFromContext(ctx).With("component", "history")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			if !ev.Task.Status.IsTerminal() {
				continue
			}

			if err := repo.RecordFinished(ctx, NewHistoryRecord(sessionID, ev.Task)); err != nil {
				logger.Error("failed to record finished download", "task_id", ev.Task.ID, "err", err)

				continue
			}

			logger.Debug("recorded finished download", "task_id", ev.Task.ID, "status", ev.Task.Status)
		}
	}
}
