package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
)

// Notifier delivers notification records after the mutation that produced
// them has committed. Delivery failures are logged, never returned to callers.
type Notifier interface {
	Notify(ctx context.Context, notification store.Notification) error
}

type NotifierFunc func(ctx context.Context, notification store.Notification) error

func (f NotifierFunc) Notify(ctx context.Context, notification store.Notification) error {
	return f(ctx, notification)
}

func notify(g *store.Graph, newID func(string) string, recipientID string, at time.Time, format string, args ...any) {
	g.Notify(store.Notification{
		ID:          newID("ntf"),
		DocumentID:  g.Document.ID,
		RecipientID: recipientID,
		Message:     fmt.Sprintf(format, args...),
		CreatedAt:   at,
	})
}
