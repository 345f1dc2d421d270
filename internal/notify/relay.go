package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
	"github.com/SpecLeft/specleft-delta-demo/internal/workflow"
)

const defaultPollTimeout = 2 * time.Second

// Notification converts the envelope back into a notification record.
func (e Envelope) Notification() store.Notification {
	return store.Notification{
		ID:          e.ID,
		DocumentID:  e.DocumentID,
		RecipientID: e.RecipientID,
		Message:     e.Message,
		CreatedAt:   e.CreatedAt,
	}
}

// Relay consumes the Redis queue and hands each envelope to a delivery notifier.
// Failed deliveries are logged and dropped.
type Relay struct {
	queue       *RedisQueue
	target      workflow.Notifier
	logger      *slog.Logger
	pollTimeout time.Duration
}

func NewRelay(queue *RedisQueue, target workflow.Notifier, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		queue:       queue,
		target:      target,
		logger:      logger.With("component", "notify_relay"),
		pollTimeout: defaultPollTimeout,
	}
}

// Run delivers envelopes until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		envelope, ok, err := r.queue.Pop(ctx, r.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("notification dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.pollTimeout):
			}
			continue
		}
		if !ok {
			continue
		}
		if err := r.target.Notify(ctx, envelope.Notification()); err != nil {
			r.logger.Warn("notification delivery failed",
				"notification_id", envelope.ID,
				"document_id", envelope.DocumentID,
				"recipient_id", envelope.RecipientID,
				"error", err,
			)
		}
	}
}
