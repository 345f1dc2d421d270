package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SpecLeft/specleft-delta-demo/internal/revisions"
	"github.com/SpecLeft/specleft-delta-demo/internal/store"
	"github.com/SpecLeft/specleft-delta-demo/internal/workflow"
)

const defaultUploadTimeout = 30 * time.Second

// Snapshots resolves the content a review cycle was submitted with.
type Snapshots interface {
	ContentAtCycle(documentID string, cycleIndex int) (revisions.Content, revisions.CommitInfo, error)
}

// Archiver uploads a JSON and a Markdown rendering of every cycle that closes.
type Archiver struct {
	objects   ObjectStore
	snapshots Snapshots
	logger    *slog.Logger
	timeout   time.Duration
}

// New creates an Archiver writing to objects.
func New(objects ObjectStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		objects: objects,
		logger:  logger.With("component", "archive"),
		timeout: defaultUploadTimeout,
	}
}

// WithSnapshots archives the submitted revision of each cycle instead of the
// document's current content.
func (a *Archiver) WithSnapshots(snapshots Snapshots) *Archiver {
	a.snapshots = snapshots
	return a
}

// Keys returns the object keys used for a document's cycle.
func Keys(documentID string, cycleIndex int) (jsonKey, markdownKey string) {
	base := fmt.Sprintf("%s/cycle-%d", documentID, cycleIndex)
	return base + ".json", base + ".md"
}

// Archive renders and uploads one closed cycle of g.
func (a *Archiver) Archive(ctx context.Context, g *store.Graph, cycleIndex int) error {
	record, err := BuildRecord(workflow.BuildHistory(g), cycleIndex)
	if err != nil {
		return err
	}
	a.attachSnapshot(&record)
	jsonData, err := RenderJSON(record)
	if err != nil {
		return fmt.Errorf("render json: %w", err)
	}
	markdown, err := RenderMarkdown(record)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}

	jsonKey, markdownKey := Keys(record.DocumentID, record.CycleIndex)
	if err := a.objects.Put(ctx, jsonKey, jsonData, "application/json"); err != nil {
		return err
	}
	return a.objects.Put(ctx, markdownKey, markdown, "text/markdown; charset=utf-8")
}

// attachSnapshot swaps in the tagged revision. Without one the record keeps
// the document's current content.
func (a *Archiver) attachSnapshot(record *Record) {
	if a.snapshots == nil {
		return
	}
	content, commit, err := a.snapshots.ContentAtCycle(record.DocumentID, record.CycleIndex)
	if err != nil {
		a.logger.Warn("cycle revision unavailable",
			"document_id", record.DocumentID,
			"cycle_index", record.CycleIndex,
			"error", err,
		)
		return
	}
	record.Title = content.Title
	record.Body = content.Body
	record.Revision = &Revision{
		Tag:         revisions.CycleTag(record.CycleIndex),
		Commit:      commit.Hash,
		CommittedAt: commit.CreatedAt,
	}
}

// Observe archives the cycle a decision just closed.
func (a *Archiver) Observe(ctx context.Context, change workflow.Change) {
	if change.Operation != workflow.OpDecide || change.Graph == nil {
		return
	}
	status := change.Graph.Document.Status
	if status != store.StatusApproved && status != store.StatusRejected {
		return
	}
	cycle := change.Graph.ActiveCycle()
	if cycle == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	if err := a.Archive(ctx, change.Graph, cycle.CycleIndex); err != nil {
		a.logger.Warn("archive cycle failed",
			"document_id", change.Graph.Document.ID,
			"cycle_index", cycle.CycleIndex,
			"error", err,
		)
		return
	}
	a.logger.Info("cycle archived", "document_id", change.Graph.Document.ID, "cycle_index", cycle.CycleIndex, "outcome", status)
}

var _ workflow.Observer = (*Archiver)(nil)
