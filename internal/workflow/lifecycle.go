package workflow

import (
	"slices"
	"time"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
)

// Operation names a public engine operation. It is also the label attached
// to post-commit changes handed to observers.
type Operation string

const (
	OpCreate   Operation = "create"
	OpUpdate   Operation = "update"
	OpSubmit   Operation = "submit"
	OpDecide   Operation = "decide"
	OpDelegate Operation = "delegate"
	OpRevoke   Operation = "revoke"
	OpEscalate Operation = "escalate"
)

var allowedStatuses = map[Operation][]store.DocumentStatus{
	OpUpdate:   {store.StatusDraft, store.StatusRejected},
	OpSubmit:   {store.StatusDraft, store.StatusRejected},
	OpDecide:   {store.StatusReview},
	OpDelegate: {store.StatusReview},
	OpRevoke:   {store.StatusReview},
	OpEscalate: {store.StatusReview},
}

var transitions = map[store.DocumentStatus][]store.DocumentStatus{
	store.StatusDraft:    {store.StatusReview},
	store.StatusReview:   {store.StatusApproved, store.StatusRejected},
	store.StatusRejected: {store.StatusReview},
}

// CanTransition reports whether the status edge from -> to exists. Approved
// has no outgoing edges.
func CanTransition(from, to store.DocumentStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Allowed reports whether op may run against a document in status.
func Allowed(op Operation, status store.DocumentStatus) bool {
	return slices.Contains(allowedStatuses[op], status)
}

func checkOperation(op Operation, status store.DocumentStatus) error {
	if Allowed(op, status) {
		return nil
	}
	details := map[string]any{"operation": string(op), "status": string(status)}
	switch op {
	case OpUpdate:
		if status == store.StatusApproved {
			return withDetails(ErrDocumentLocked, details)
		}
		return withDetails(ErrUnderReview, details)
	case OpDecide, OpDelegate, OpRevoke:
		return withDetails(ErrDocumentNotUnderReview, details)
	case OpEscalate:
		return withDetails(ErrEscalationNotApplicable, details)
	}
	return withDetails(ErrInvalidTransition, details)
}

func transition(document *store.Document, to store.DocumentStatus, now time.Time) error {
	if !CanTransition(document.Status, to) {
		return withDetails(ErrInvalidTransition, map[string]any{
			"from": string(document.Status),
			"to":   string(to),
		})
	}
	document.Status = to
	document.UpdatedAt = now
	return nil
}
