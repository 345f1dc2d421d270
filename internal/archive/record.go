// Package archive renders closed review cycles and stores them in object storage.
package archive

import (
	"fmt"
	"time"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
	"github.com/SpecLeft/specleft-delta-demo/internal/workflow"
)

// Record is the archived summary of one closed review cycle.
type Record struct {
	DocumentID      string       `json:"documentId"`
	Title           string       `json:"title"`
	Body            string       `json:"body"`
	AuthorID        string       `json:"authorId"`
	CycleIndex      int          `json:"cycleIndex"`
	Outcome         string       `json:"outcome"`
	SubmittedAt     time.Time    `json:"submittedAt"`
	ClosedAt        time.Time    `json:"closedAt"`
	EscalationLevel int          `json:"escalationLevel"`
	Reviewers       []Reviewer   `json:"reviewers"`
	Delegations     []Delegation `json:"delegations"`
	Revision        *Revision    `json:"revision,omitempty"`
}

// Revision identifies the tagged commit the cycle was submitted with.
type Revision struct {
	Tag         string    `json:"tag"`
	Commit      string    `json:"commit"`
	CommittedAt time.Time `json:"committedAt"`
}

// Reviewer is one assignment and, when present, its decision.
type Reviewer struct {
	ID         string     `json:"id"`
	Escalated  bool       `json:"escalated"`
	AssignedAt time.Time  `json:"assignedAt"`
	Outcome    string     `json:"outcome,omitempty"`
	ActedBy    string     `json:"actedBy,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	DecidedAt  *time.Time `json:"decidedAt,omitempty"`
}

// Delegation is a delegation that existed during the cycle.
type Delegation struct {
	ID           string     `json:"id"`
	DelegatorID  string     `json:"delegatorId"`
	SubstituteID string     `json:"substituteId"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
}

// BuildRecord summarizes a closed cycle. The close time is the latest decision.
func BuildRecord(history workflow.History, cycleIndex int) (Record, error) {
	entry, ok := history.Cycle(cycleIndex)
	if !ok {
		return Record{}, fmt.Errorf("cycle %d of %s not found", cycleIndex, history.Document.ID)
	}
	if entry.Cycle.Status == store.StatusReview {
		return Record{}, fmt.Errorf("cycle %d of %s is still under review", cycleIndex, history.Document.ID)
	}

	record := Record{
		DocumentID:  history.Document.ID,
		Title:       history.Document.Title,
		Body:        history.Document.Body,
		AuthorID:    history.Document.AuthorID,
		CycleIndex:  entry.Cycle.CycleIndex,
		Outcome:     string(entry.Cycle.Status),
		SubmittedAt: entry.Cycle.CreatedAt,
		Reviewers:   make([]Reviewer, 0, len(entry.Assignments)),
		Delegations: make([]Delegation, 0, len(entry.Delegations)),
	}
	if entry.Escalation != nil {
		record.EscalationLevel = entry.Escalation.CurrentIndex
	}

	decisions := make(map[string]store.Decision, len(entry.Decisions))
	for _, decision := range entry.Decisions {
		decisions[decision.ReviewerID] = decision
		if decision.DecidedAt.After(record.ClosedAt) {
			record.ClosedAt = decision.DecidedAt
		}
	}
	for _, assignment := range entry.Assignments {
		reviewer := Reviewer{
			ID:         assignment.ReviewerID,
			Escalated:  assignment.Escalated,
			AssignedAt: assignment.AssignedAt,
		}
		if decision, ok := decisions[assignment.ReviewerID]; ok {
			decidedAt := decision.DecidedAt
			reviewer.Outcome = string(decision.Outcome)
			reviewer.ActedBy = decision.ActedBy
			reviewer.Reason = decision.Reason
			reviewer.DecidedAt = &decidedAt
		}
		record.Reviewers = append(record.Reviewers, reviewer)
	}
	for _, delegation := range entry.Delegations {
		record.Delegations = append(record.Delegations, Delegation{
			ID:           delegation.ID,
			DelegatorID:  delegation.DelegatorID,
			SubstituteID: delegation.SubstituteID,
			ExpiresAt:    delegation.ExpiresAt,
			RevokedAt:    delegation.RevokedAt,
		})
	}
	return record, nil
}
