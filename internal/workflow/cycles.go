package workflow

import (
	"slices"
	"strings"
	"time"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
)

// EscalationConfig installs an escalation ladder on a new cycle. A zero
// Timeout falls back to the document's escalation timeout; a nil StartAt
// starts the clock at submission time.
type EscalationConfig struct {
	Timeout time.Duration `validate:"gte=0,whole_seconds"`
	Ladder  []string      `validate:"dive,required"`
	StartAt *time.Time
}

func startCycle(g *store.Graph, reviewerIDs []string, escalation *EscalationConfig, now time.Time, newID func(string) string) *store.ReviewCycle {
	index := 1
	if previous := g.ActiveCycle(); previous != nil {
		index = previous.CycleIndex + 1
	}
	cycle := g.AddCycle(store.ReviewCycle{
		ID:         newID("cyc"),
		DocumentID: g.Document.ID,
		CycleIndex: index,
		Status:     store.StatusReview,
		CreatedAt:  now,
	})

	for _, reviewerID := range uniqueIDs(reviewerIDs) {
		g.AddAssignment(store.ReviewerAssignment{
			ID:         newID("asg"),
			CycleID:    cycle.ID,
			ReviewerID: reviewerID,
			Active:     true,
			AssignedAt: now,
		})
	}

	if escalation != nil {
		timeout := escalation.Timeout
		if timeout == 0 {
			timeout = g.Document.EscalationTimeout
		}
		ladder := escalationLadder(escalation.Ladder, g.Document.MaxEscalationDepth)
		startAt := now
		if escalation.StartAt != nil {
			startAt = *escalation.StartAt
		}
		g.AddEscalation(store.EscalationState{
			ID:               newID("esc"),
			CycleID:          cycle.ID,
			Timeout:          timeout,
			Ladder:           ladder,
			CurrentIndex:     0,
			NextEscalationAt: startAt.Add(timeout),
		})
	}
	return cycle
}

func escalationLadder(candidates []string, maxDepth int) []string {
	ladder := uniqueIDs(candidates)
	if maxDepth > 0 && len(ladder) > maxDepth {
		ladder = ladder[:maxDepth]
	}
	return ladder
}

// ReviewerIDs returns every reviewer assigned to the cycle, in assignment order.
func ReviewerIDs(g *store.Graph, cycle *store.ReviewCycle) []string {
	if cycle == nil {
		return []string{}
	}
	assignments := g.AssignmentsFor(cycle.ID)
	ids := make([]string, 0, len(assignments))
	for _, assignment := range assignments {
		if assignment.Active {
			ids = append(ids, assignment.ReviewerID)
		}
	}
	return ids
}

// PendingReviewers returns assigned reviewers without a decision. A cycle
// that is no longer under review has no pending reviewers.
func PendingReviewers(g *store.Graph, cycle *store.ReviewCycle) []string {
	if cycle == nil || cycle.Status != store.StatusReview {
		return []string{}
	}
	pending := make([]string, 0)
	for _, reviewerID := range ReviewerIDs(g, cycle) {
		if g.Decision(cycle.ID, reviewerID) == nil {
			pending = append(pending, reviewerID)
		}
	}
	return pending
}

func uniqueIDs(ids []string) []string {
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(unique, id) {
			continue
		}
		unique = append(unique, id)
	}
	return unique
}
