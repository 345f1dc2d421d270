package workflow

import (
	"time"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
)

// triggerEscalation adds the next ladder rung to the active cycle and pushes
// the due time out by the escalation timeout.
func triggerEscalation(g *store.Graph, now time.Time, newID func(string) string) (string, *store.EscalationState, error) {
	cycle := g.ActiveCycle()
	if g.Document.Status != store.StatusReview || cycle == nil || cycle.Status != store.StatusReview {
		return "", nil, withDetails(ErrEscalationNotApplicable, map[string]any{"status": string(g.Document.Status)})
	}
	state := g.EscalationFor(cycle.ID)
	if state == nil {
		return "", nil, ErrEscalationNotApplicable
	}
	if now.Before(state.NextEscalationAt) {
		return "", nil, withDetails(ErrEscalationNotDue, map[string]any{
			"next_escalation_at": state.NextEscalationAt,
		})
	}
	if state.Exhausted() {
		return "", nil, withDetails(ErrEscalationMaxDepth, map[string]any{
			"depth": len(state.Ladder),
		})
	}

	candidate := state.Ladder[state.CurrentIndex]
	if candidate == g.Document.AuthorID {
		return "", nil, withDetails(ErrSelfEscalationForbidden, map[string]any{"reviewer_id": candidate})
	}
	if g.Assignment(cycle.ID, candidate) == nil {
		g.AddAssignment(store.ReviewerAssignment{
			ID:         newID("asg"),
			CycleID:    cycle.ID,
			ReviewerID: candidate,
			Active:     true,
			Escalated:  true,
			AssignedAt: now,
		})
	}
	notify(g, newID, candidate, now, "review of %q was escalated to you", g.Document.Title)

	escalatedAt := now
	state.LastEscalatedAt = &escalatedAt
	state.CurrentIndex++
	state.NextEscalationAt = now.Add(state.Timeout)
	return candidate, state, nil
}
