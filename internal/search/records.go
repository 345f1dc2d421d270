package search

import (
	"github.com/SpecLeft/specleft-delta-demo/internal/store"
	"github.com/SpecLeft/specleft-delta-demo/internal/workflow"
)

// DocumentRecordFrom summarizes a document and its active cycle.
func DocumentRecordFrom(g *store.Graph) DocumentRecord {
	record := DocumentRecord{
		ID:        g.Document.ID,
		Title:     g.Document.Title,
		Body:      g.Document.Body,
		AuthorID:  g.Document.AuthorID,
		Status:    string(g.Document.Status),
		Reviewers: []string{},
		Pending:   []string{},
		UpdatedAt: g.Document.UpdatedAt.Unix(),
	}
	if cycle := g.ActiveCycle(); cycle != nil {
		record.CycleIndex = cycle.CycleIndex
		record.Reviewers = workflow.ReviewerIDs(g, cycle)
		record.Pending = workflow.PendingReviewers(g, cycle)
	}
	return record
}

// DecisionRecordsFrom returns every decision in the graph, oldest cycle first.
func DecisionRecordsFrom(g *store.Graph) []DecisionRecord {
	records := make([]DecisionRecord, 0, len(g.Decisions))
	for _, cycle := range g.Cycles {
		for _, decision := range g.DecisionsFor(cycle.ID) {
			records = append(records, DecisionRecord{
				ID:         decision.ID,
				DocumentID: g.Document.ID,
				CycleIndex: cycle.CycleIndex,
				ReviewerID: decision.ReviewerID,
				ActedBy:    decision.ActedBy,
				Outcome:    string(decision.Outcome),
				Reason:     decision.Reason,
				DecidedAt:  decision.DecidedAt.Unix(),
			})
		}
	}
	return records
}
