package notifier

import (
	"context"
	"fmt"

	"github.com/italolelis/termidl/internal/logctx"
	"github.com/italolelis/termidl/internal/task"
	"github.com/italolelis/termidl/internal/telemetry"
)

// Message renders the notification for a finished task. Non-terminal tasks and
// tasks the user cancelled produce no message.
func Message(t task.Task) (string, bool) {
	switch t.Status {
	case task.StatusCompleted:
		return fmt.Sprintf("✅ Download finished: %s (%s, task %d)", t.DisplayName, t.Backend.Label(), t.ID), true
	case task.StatusError:
		return fmt.Sprintf("❌ Download failed: %s (%s, task %d): %s", t.DisplayName, t.Backend.Label(), t.ID, t.Message), true
	default:
		return "", false
	}
}

// NotifyFinished sends a notification for every completed or failed task read
// from events until the channel is closed or ctx is done.
func NotifyFinished(ctx context.Context, events <-chan task.Event, n Notifier, tel *telemetry.Telemetry) {
	logger := logctx.LoggerFromContext(ctx).With("component", "notifier")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			content, ok := Message(ev.Task)
			if !ok {
				continue
			}

			err := tel.InstrumentNotification(ctx, "discord", func(ctx context.Context) error {
				return n.Notify(ctx, content)
			})
			if err != nil {
				logger.Error("failed to send notification", "task_id", ev.Task.ID, "err", err)
			}
		}
	}
}
