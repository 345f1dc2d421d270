package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultDecision ResultType = "decision"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
	Status     string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterStatus     string     // document status or decision outcome
	FilterDocumentID string
	Limit            int
	Offset           int
}

// Response is the envelope returned to search callers.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexDocument(doc DocumentRecord) error
	IndexDocuments(documents []DocumentRecord) error
	IndexDecisions(decisions []DecisionRecord) error
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	AuthorID   string   `json:"authorId"`
	Status     string   `json:"status"`
	CycleIndex int      `json:"cycleIndex"`
	Reviewers  []string `json:"reviewers"`
	Pending    []string `json:"pending"`
	UpdatedAt  int64    `json:"updatedAt"`
}

// DecisionRecord is the data we index for a recorded decision.
type DecisionRecord struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	CycleIndex int    `json:"cycleIndex"`
	ReviewerID string `json:"reviewerId"`
	ActedBy    string `json:"actedBy"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason"`
	DecidedAt  int64  `json:"decidedAt"`
}
