package workflow

import (
	"time"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
)

type decisionRequest struct {
	actingID   string
	onBehalfOf string
	outcome    store.Outcome
	reason     string
	now        time.Time
}

// recordDecision validates and records one decision, then folds it into the
// cycle outcome. Every check runs before the graph is touched.
func recordDecision(g *store.Graph, cycle *store.ReviewCycle, req decisionRequest, newID func(string) string) (*store.Decision, error) {
	reviewerID, _, err := resolveReviewer(g, cycle, req.actingID, req.onBehalfOf, req.now)
	if err != nil {
		return nil, err
	}
	if !isAssigned(g, cycle, reviewerID) {
		return nil, withDetails(ErrReviewerNotAssigned, map[string]any{"reviewer_id": reviewerID})
	}
	if existing := g.Decision(cycle.ID, reviewerID); existing != nil {
		return nil, withDetails(ErrDecisionExists, map[string]any{
			"reviewer_id": reviewerID,
			"decision_id": existing.ID,
			"outcome":     string(existing.Outcome),
		})
	}
	if g.Document.Status != store.StatusReview || cycle.Status != store.StatusReview {
		return nil, withDetails(ErrDocumentNotUnderReview, map[string]any{"status": string(g.Document.Status)})
	}
	if reviewerID == g.Document.AuthorID {
		return nil, ErrSelfApprovalForbidden
	}

	decision := g.AddDecision(store.Decision{
		ID:         newID("dec"),
		CycleID:    cycle.ID,
		ReviewerID: reviewerID,
		Outcome:    req.outcome,
		ActedBy:    req.actingID,
		Reason:     req.reason,
		DecidedAt:  req.now,
	})
	if err := aggregate(g, cycle, decision, req.now, newID); err != nil {
		return nil, err
	}
	return decision, nil
}

// aggregate closes the cycle on the first rejection, or on approval once no
// assigned reviewer is pending.
func aggregate(g *store.Graph, cycle *store.ReviewCycle, decision *store.Decision, now time.Time, newID func(string) string) error {
	if decision.Outcome == store.OutcomeRejected {
		cycle.Status = store.StatusRejected
		if err := transition(&g.Document, store.StatusRejected, now); err != nil {
			return err
		}
		message := "%q was rejected by %s"
		args := []any{g.Document.Title, decision.ReviewerID}
		if decision.Reason != "" {
			message += ": %s"
			args = append(args, decision.Reason)
		}
		notify(g, newID, g.Document.AuthorID, now, message, args...)
		return nil
	}

	if len(PendingReviewers(g, cycle)) > 0 {
		return nil
	}
	cycle.Status = store.StatusApproved
	if err := transition(&g.Document, store.StatusApproved, now); err != nil {
		return err
	}
	notify(g, newID, g.Document.AuthorID, now, "%q was approved by all reviewers", g.Document.Title)
	return nil
}
