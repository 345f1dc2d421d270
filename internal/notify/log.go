package notify

import (
	"context"
	"log/slog"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
)

// LogNotifier writes notifications to the structured log. It is the fallback
// when no queue or mailer is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, notification store.Notification) error {
	n.logger.InfoContext(ctx, "notification",
		"notification_id", notification.ID,
		"document_id", notification.DocumentID,
		"recipient_id", notification.RecipientID,
		"message", notification.Message,
	)
	return nil
}
