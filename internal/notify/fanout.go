package notify

import (
	"context"
	"errors"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
	"github.com/SpecLeft/specleft-delta-demo/internal/workflow"
)

var (
	_ workflow.Notifier = (*RedisQueue)(nil)
	_ workflow.Notifier = (*Mailer)(nil)
	_ workflow.Notifier = (*LogNotifier)(nil)
	_ workflow.Notifier = Fanout(nil)
)

// Fanout delivers to every notifier even when some fail, and joins the errors.
type Fanout []workflow.Notifier

func (f Fanout) Notify(ctx context.Context, notification store.Notification) error {
	var errs []error
	for _, notifier := range f {
		if err := notifier.Notify(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
