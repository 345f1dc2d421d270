package revisions

import (
	"context"
	"log/slog"

	"github.com/SpecLeft/specleft-delta-demo/internal/workflow"
)

// Recorder mirrors committed document changes into the revision repositories.
type Recorder struct {
	service *Service
	logger  *slog.Logger
}

func NewRecorder(service *Service, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{service: service, logger: logger.With("component", "revisions")}
}

// Observe commits the body on create and update and tags each submission.
func (r *Recorder) Observe(_ context.Context, change workflow.Change) {
	if change.Graph == nil {
		return
	}
	doc := change.Graph.Document
	content := Content{Title: doc.Title, Body: doc.Body}

	var err error
	switch change.Operation {
	case workflow.OpCreate:
		err = r.service.EnsureDocumentRepo(doc.ID, content, doc.AuthorID, change.At)
	case workflow.OpUpdate:
		_, err = r.service.CommitContent(doc.ID, content, doc.AuthorID, "Update document", change.At)
	case workflow.OpSubmit:
		cycle := change.Graph.ActiveCycle()
		if cycle == nil {
			return
		}
		if _, err = r.service.CommitContent(doc.ID, content, doc.AuthorID, "Update document", change.At); err == nil {
			err = r.service.TagCycle(doc.ID, cycle.CycleIndex, doc.AuthorID, change.At)
		}
	default:
		return
	}
	if err != nil {
		r.logger.Warn("record revision failed", "document_id", doc.ID, "operation", change.Operation, "error", err)
	}
}

var _ workflow.Observer = (*Recorder)(nil)
