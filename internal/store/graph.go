package store

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConstraint is returned when a mutation would break a uniqueness rule.
	ErrConstraint = errors.New("constraint violation")
)

// Graph is the entity graph of a single document: the document itself and
// everything hanging off its review cycles. Entities reference each other by
// id only. Outbox holds the notifications created by the mutation in flight;
// stores persist them and hand them back in the committed snapshot.
type Graph struct {
	Document    Document
	Cycles      []*ReviewCycle
	Assignments []*ReviewerAssignment
	Decisions   []*Decision
	Delegations []*Delegation
	Escalations []*EscalationState
	Outbox      []Notification
}

// ActiveCycle returns the most recent cycle, or nil for a never-submitted document.
func (g *Graph) ActiveCycle() *ReviewCycle {
	if len(g.Cycles) == 0 {
		return nil
	}
	return g.Cycles[len(g.Cycles)-1]
}

func (g *Graph) Cycle(cycleID string) *ReviewCycle {
	for _, cycle := range g.Cycles {
		if cycle.ID == cycleID {
			return cycle
		}
	}
	return nil
}

// AssignmentsFor returns the cycle's assignments in assignment order.
func (g *Graph) AssignmentsFor(cycleID string) []*ReviewerAssignment {
	items := make([]*ReviewerAssignment, 0)
	for _, assignment := range g.Assignments {
		if assignment.CycleID == cycleID {
			items = append(items, assignment)
		}
	}
	return items
}

func (g *Graph) Assignment(cycleID, reviewerID string) *ReviewerAssignment {
	for _, assignment := range g.Assignments {
		if assignment.CycleID == cycleID && assignment.ReviewerID == reviewerID {
			return assignment
		}
	}
	return nil
}

func (g *Graph) DecisionsFor(cycleID string) []*Decision {
	items := make([]*Decision, 0)
	for _, decision := range g.Decisions {
		if decision.CycleID == cycleID {
			items = append(items, decision)
		}
	}
	return items
}

func (g *Graph) Decision(cycleID, reviewerID string) *Decision {
	for _, decision := range g.Decisions {
		if decision.CycleID == cycleID && decision.ReviewerID == reviewerID {
			return decision
		}
	}
	return nil
}

func (g *Graph) DelegationsFor(cycleID string) []*Delegation {
	items := make([]*Delegation, 0)
	for _, delegation := range g.Delegations {
		if delegation.CycleID == cycleID {
			items = append(items, delegation)
		}
	}
	return items
}

func (g *Graph) Delegation(delegationID string) *Delegation {
	for _, delegation := range g.Delegations {
		if delegation.ID == delegationID {
			return delegation
		}
	}
	return nil
}

func (g *Graph) EscalationFor(cycleID string) *EscalationState {
	for _, state := range g.Escalations {
		if state.CycleID == cycleID {
			return state
		}
	}
	return nil
}

func (g *Graph) AddCycle(cycle ReviewCycle) *ReviewCycle {
	item := &cycle
	g.Cycles = append(g.Cycles, item)
	return item
}

func (g *Graph) AddAssignment(assignment ReviewerAssignment) *ReviewerAssignment {
	item := &assignment
	g.Assignments = append(g.Assignments, item)
	return item
}

func (g *Graph) AddDecision(decision Decision) *Decision {
	item := &decision
	g.Decisions = append(g.Decisions, item)
	return item
}

func (g *Graph) AddDelegation(delegation Delegation) *Delegation {
	item := &delegation
	g.Delegations = append(g.Delegations, item)
	return item
}

func (g *Graph) AddEscalation(state EscalationState) *EscalationState {
	state.Ladder = slices.Clone(state.Ladder)
	item := &state
	g.Escalations = append(g.Escalations, item)
	return item
}

// Notify queues a notification record for the current mutation.
func (g *Graph) Notify(notification Notification) {
	g.Outbox = append(g.Outbox, notification)
}

// Clone returns a deep copy so a mutation can be discarded on failure.
func (g *Graph) Clone() *Graph {
	clone := &Graph{
		Document:    g.Document,
		Cycles:      make([]*ReviewCycle, 0, len(g.Cycles)),
		Assignments: make([]*ReviewerAssignment, 0, len(g.Assignments)),
		Decisions:   make([]*Decision, 0, len(g.Decisions)),
		Delegations: make([]*Delegation, 0, len(g.Delegations)),
		Escalations: make([]*EscalationState, 0, len(g.Escalations)),
		Outbox:      slices.Clone(g.Outbox),
	}
	for _, cycle := range g.Cycles {
		item := *cycle
		clone.Cycles = append(clone.Cycles, &item)
	}
	for _, assignment := range g.Assignments {
		item := *assignment
		clone.Assignments = append(clone.Assignments, &item)
	}
	for _, decision := range g.Decisions {
		item := *decision
		clone.Decisions = append(clone.Decisions, &item)
	}
	for _, delegation := range g.Delegations {
		item := *delegation
		item.RevokedAt = cloneTime(delegation.RevokedAt)
		clone.Delegations = append(clone.Delegations, &item)
	}
	for _, state := range g.Escalations {
		item := *state
		item.Ladder = slices.Clone(state.Ladder)
		item.LastEscalatedAt = cloneTime(state.LastEscalatedAt)
		clone.Escalations = append(clone.Escalations, &item)
	}
	return clone
}

// CheckConstraints enforces the uniqueness rules the database declares, so
// every store rejects the same malformed graphs.
func (g *Graph) CheckConstraints() error {
	indexes := make(map[int]struct{}, len(g.Cycles))
	reviewing := 0
	for i, cycle := range g.Cycles {
		if cycle.DocumentID != g.Document.ID {
			return fmt.Errorf("%w: cycle %s belongs to %s", ErrConstraint, cycle.ID, cycle.DocumentID)
		}
		if _, ok := indexes[cycle.CycleIndex]; ok {
			return fmt.Errorf("%w: duplicate cycle index %d", ErrConstraint, cycle.CycleIndex)
		}
		indexes[cycle.CycleIndex] = struct{}{}
		if i > 0 && cycle.CycleIndex <= g.Cycles[i-1].CycleIndex {
			return fmt.Errorf("%w: cycle index %d is not increasing", ErrConstraint, cycle.CycleIndex)
		}
		if cycle.Status == StatusReview {
			reviewing++
		}
	}
	if reviewing > 1 {
		return fmt.Errorf("%w: %d cycles under review", ErrConstraint, reviewing)
	}

	type pair struct{ cycle, reviewer string }
	assigned := make(map[pair]struct{}, len(g.Assignments))
	for _, assignment := range g.Assignments {
		key := pair{assignment.CycleID, assignment.ReviewerID}
		if _, ok := assigned[key]; ok {
			return fmt.Errorf("%w: reviewer %s assigned twice", ErrConstraint, assignment.ReviewerID)
		}
		assigned[key] = struct{}{}
	}
	decided := make(map[pair]struct{}, len(g.Decisions))
	for _, decision := range g.Decisions {
		key := pair{decision.CycleID, decision.ReviewerID}
		if _, ok := decided[key]; ok {
			return fmt.Errorf("%w: reviewer %s decided twice", ErrConstraint, decision.ReviewerID)
		}
		decided[key] = struct{}{}
	}
	escalated := make(map[string]struct{}, len(g.Escalations))
	for _, state := range g.Escalations {
		if _, ok := escalated[state.CycleID]; ok {
			return fmt.Errorf("%w: cycle %s has two escalation states", ErrConstraint, state.CycleID)
		}
		escalated[state.CycleID] = struct{}{}
	}
	return nil
}

// dueAt reports whether the active cycle has an escalation rung due at now.
func (g *Graph) dueAt(now time.Time) (time.Time, bool) {
	cycle := g.ActiveCycle()
	if g.Document.Status != StatusReview || cycle == nil || cycle.Status != StatusReview {
		return time.Time{}, false
	}
	state := g.EscalationFor(cycle.ID)
	if state == nil || state.Exhausted() || now.Before(state.NextEscalationAt) {
		return time.Time{}, false
	}
	return state.NextEscalationAt, true
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
