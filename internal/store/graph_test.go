package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func reviewGraph(documentID string) *Graph {
	graph := &Graph{Document: Document{
		ID:                 documentID,
		Title:              "Quarterly plan",
		AuthorID:           "alice",
		Status:             StatusReview,
		EscalationTimeout:  time.Hour,
		MaxEscalationDepth: 3,
		CreatedAt:          baseTime,
		UpdatedAt:          baseTime,
	}}
	cycle := graph.AddCycle(ReviewCycle{ID: documentID + "-c1", DocumentID: documentID, CycleIndex: 1, Status: StatusReview, CreatedAt: baseTime})
	graph.AddAssignment(ReviewerAssignment{ID: documentID + "-a1", CycleID: cycle.ID, ReviewerID: "bob", Active: true, AssignedAt: baseTime})
	graph.AddEscalation(EscalationState{
		ID:               documentID + "-e1",
		CycleID:          cycle.ID,
		Timeout:          time.Hour,
		Ladder:           []string{"carol", "dave"},
		NextEscalationAt: baseTime.Add(time.Hour),
	})
	return graph
}

func TestGraphCloneIsIndependent(t *testing.T) {
	graph := reviewGraph("doc-1")
	revoked := baseTime
	graph.AddDelegation(Delegation{ID: "g1", CycleID: "doc-1-c1", DelegatorID: "bob", SubstituteID: "erin", ExpiresAt: baseTime.Add(time.Hour), RevokedAt: &revoked})

	clone := graph.Clone()
	clone.Cycles[0].Status = StatusApproved
	clone.Escalations[0].Ladder[0] = "mallory"
	*clone.Delegations[0].RevokedAt = baseTime.Add(time.Minute)
	clone.Document.Title = "changed"

	assert.Equal(t, StatusReview, graph.Cycles[0].Status)
	assert.Equal(t, "carol", graph.Escalations[0].Ladder[0])
	assert.True(t, graph.Delegations[0].RevokedAt.Equal(baseTime))
	assert.Equal(t, "Quarterly plan", graph.Document.Title)
}

func TestGraphLookups(t *testing.T) {
	graph := reviewGraph("doc-1")
	cycle := graph.ActiveCycle()
	require.NotNil(t, cycle)

	assert.Same(t, cycle, graph.Cycle(cycle.ID))
	assert.Nil(t, graph.Cycle("missing"))
	assert.Len(t, graph.AssignmentsFor(cycle.ID), 1)
	assert.NotNil(t, graph.Assignment(cycle.ID, "bob"))
	assert.Nil(t, graph.Assignment(cycle.ID, "carol"))
	assert.NotNil(t, graph.EscalationFor(cycle.ID))
	assert.Empty(t, graph.DecisionsFor(cycle.ID))
	assert.Nil(t, (&Graph{}).ActiveCycle())
}

func TestCheckConstraints(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Graph)
	}{
		{
			name: "duplicate assignment",
			mutate: func(g *Graph) {
				g.AddAssignment(ReviewerAssignment{ID: "dup", CycleID: "doc-1-c1", ReviewerID: "bob", Active: true})
			},
		},
		{
			name: "duplicate decision",
			mutate: func(g *Graph) {
				g.AddDecision(Decision{ID: "d1", CycleID: "doc-1-c1", ReviewerID: "bob", Outcome: OutcomeApproved, ActedBy: "bob"})
				g.AddDecision(Decision{ID: "d2", CycleID: "doc-1-c1", ReviewerID: "bob", Outcome: OutcomeRejected, ActedBy: "bob"})
			},
		},
		{
			name: "second open cycle",
			mutate: func(g *Graph) {
				g.AddCycle(ReviewCycle{ID: "doc-1-c2", DocumentID: "doc-1", CycleIndex: 2, Status: StatusReview})
			},
		},
		{
			name: "cycle index not increasing",
			mutate: func(g *Graph) {
				g.Cycles[0].Status = StatusRejected
				g.AddCycle(ReviewCycle{ID: "doc-1-c0", DocumentID: "doc-1", CycleIndex: 1, Status: StatusReview})
			},
		},
		{
			name: "foreign cycle",
			mutate: func(g *Graph) {
				g.Cycles[0].DocumentID = "doc-2"
			},
		},
		{
			name: "two escalation states",
			mutate: func(g *Graph) {
				g.AddEscalation(EscalationState{ID: "e2", CycleID: "doc-1-c1"})
			},
		},
	}

	require.NoError(t, reviewGraph("doc-1").CheckConstraints())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			graph := reviewGraph("doc-1")
			tc.mutate(graph)
			err := graph.CheckConstraints()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConstraint))
		})
	}
}

func TestDelegationActiveAt(t *testing.T) {
	delegation := Delegation{ExpiresAt: baseTime.Add(time.Hour)}
	assert.True(t, delegation.ActiveAt(baseTime))
	assert.False(t, delegation.ActiveAt(baseTime.Add(time.Hour)))

	revoked := baseTime
	delegation.RevokedAt = &revoked
	assert.False(t, delegation.ActiveAt(baseTime))
}
