package store

import "time"

type DocumentStatus string

const (
	StatusDraft    DocumentStatus = "draft"
	StatusReview   DocumentStatus = "review"
	StatusApproved DocumentStatus = "approved"
	StatusRejected DocumentStatus = "rejected"
)

type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

type Document struct {
	ID                 string
	Title              string
	Body               string
	AuthorID           string
	Status             DocumentStatus
	EscalationTimeout  time.Duration
	MaxEscalationDepth int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ReviewCycle is one submission of a document. Status mirrors the aggregate
// decision state and is one of review, approved or rejected.
type ReviewCycle struct {
	ID         string
	DocumentID string
	CycleIndex int
	Status     DocumentStatus
	CreatedAt  time.Time
}

type ReviewerAssignment struct {
	ID         string
	CycleID    string
	ReviewerID string
	Active     bool
	Escalated  bool
	AssignedAt time.Time
}

// Decision is immutable once recorded. ReviewerID is the assigned reviewer the
// decision counts against; ActedBy is who physically acted.
type Decision struct {
	ID         string
	CycleID    string
	ReviewerID string
	Outcome    Outcome
	ActedBy    string
	Reason     string
	DecidedAt  time.Time
}

type Delegation struct {
	ID           string
	CycleID      string
	DelegatorID  string
	SubstituteID string
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	CreatedAt    time.Time
}

// ActiveAt reports whether the delegation is neither revoked nor expired at now.
func (d Delegation) ActiveAt(now time.Time) bool {
	return d.RevokedAt == nil && d.ExpiresAt.After(now)
}

type EscalationState struct {
	ID               string
	CycleID          string
	Timeout          time.Duration
	Ladder           []string
	CurrentIndex     int
	NextEscalationAt time.Time
	LastEscalatedAt  *time.Time
}

// Exhausted reports whether every rung of the ladder has been used.
func (e EscalationState) Exhausted() bool {
	return e.CurrentIndex >= len(e.Ladder)
}

type Notification struct {
	ID          string
	DocumentID  string
	RecipientID string
	Message     string
	CreatedAt   time.Time
}
