package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
	"github.com/SpecLeft/specleft-delta-demo/internal/workflow"
)

func TestFanoutDeliversToEveryNotifier(t *testing.T) {
	boom := errors.New("boom")
	var delivered []string
	fanout := Fanout{
		workflow.NotifierFunc(func(_ context.Context, n store.Notification) error {
			delivered = append(delivered, "first:"+n.RecipientID)
			return boom
		}),
		workflow.NotifierFunc(func(_ context.Context, n store.Notification) error {
			delivered = append(delivered, "second:"+n.RecipientID)
			return nil
		}),
	}

	err := fanout.Notify(context.Background(), store.Notification{RecipientID: "r1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to wrap boom, got %v", err)
	}
	if strings.Join(delivered, ",") != "first:r1,second:r1" {
		t.Fatalf("unexpected deliveries: %v", delivered)
	}

	if err := (Fanout{}).Notify(context.Background(), store.Notification{}); err != nil {
		t.Fatalf("empty fanout should succeed: %v", err)
	}
}

func TestLogNotifierWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := notifier.Notify(context.Background(), store.Notification{ID: "n1", DocumentID: "doc-1", RecipientID: "r1", Message: "hello"})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	for _, want := range []string{`"msg":"notification"`, `"recipient_id":"r1"`, `"document_id":"doc-1"`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log output should contain %s, got %s", want, buf.String())
		}
	}
}
