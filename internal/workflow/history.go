package workflow

import (
	"slices"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
)

// CycleHistory is the audit record of one review cycle.
type CycleHistory struct {
	Cycle       store.ReviewCycle
	Assignments []store.ReviewerAssignment
	Decisions   []store.Decision
	Delegations []store.Delegation
	Escalation  *store.EscalationState
	Pending     []string
}

type History struct {
	Document store.Document
	Cycles   []CycleHistory
}

// BuildHistory flattens a graph into value copies, oldest cycle first.
func BuildHistory(g *store.Graph) History {
	history := History{
		Document: g.Document,
		Cycles:   make([]CycleHistory, 0, len(g.Cycles)),
	}
	for _, cycle := range g.Cycles {
		entry := CycleHistory{
			Cycle:       *cycle,
			Assignments: make([]store.ReviewerAssignment, 0),
			Decisions:   make([]store.Decision, 0),
			Delegations: make([]store.Delegation, 0),
			Pending:     PendingReviewers(g, cycle),
		}
		for _, assignment := range g.AssignmentsFor(cycle.ID) {
			entry.Assignments = append(entry.Assignments, *assignment)
		}
		for _, decision := range g.DecisionsFor(cycle.ID) {
			entry.Decisions = append(entry.Decisions, *decision)
		}
		for _, delegation := range g.DelegationsFor(cycle.ID) {
			entry.Delegations = append(entry.Delegations, *delegation)
		}
		if state := g.EscalationFor(cycle.ID); state != nil {
			copied := *state
			copied.Ladder = slices.Clone(state.Ladder)
			entry.Escalation = &copied
		}
		history.Cycles = append(history.Cycles, entry)
	}
	return history
}

// Cycle returns the history entry for a cycle index, if present.
func (h History) Cycle(index int) (CycleHistory, bool) {
	for _, entry := range h.Cycles {
		if entry.Cycle.CycleIndex == index {
			return entry, true
		}
	}
	return CycleHistory{}, false
}
