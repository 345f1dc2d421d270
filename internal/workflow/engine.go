package workflow

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
	"github.com/SpecLeft/specleft-delta-demo/internal/util"
)

const (
	DefaultEscalationTimeout  = 24 * time.Hour
	DefaultMaxEscalationDepth = 3
	DefaultEffectQueue        = 256
)

// Store is the entity store the engine runs against. Mutate must run fn
// atomically for one document and discard every change when fn fails.
type Store interface {
	CreateDocument(ctx context.Context, document store.Document) error
	LoadGraph(ctx context.Context, documentID string) (*store.Graph, error)
	Mutate(ctx context.Context, documentID string, fn func(*store.Graph) error) (*store.Graph, error)
	ListNotifications(ctx context.Context, documentID string) ([]store.Notification, error)
	ListRecipientNotifications(ctx context.Context, recipientID string) ([]store.Notification, error)
}

// Change describes a committed operation. Graph is the committed snapshot and
// must be treated as read-only.
type Change struct {
	Operation Operation
	Graph     *store.Graph
	At        time.Time
}

// Observer reacts to committed changes (indexing, archiving, revision
// history). Observers run after commit and cannot fail the operation.
type Observer interface {
	Observe(ctx context.Context, change Change)
}

type ObserverFunc func(ctx context.Context, change Change)

func (f ObserverFunc) Observe(ctx context.Context, change Change) {
	f(ctx, change)
}

type Options struct {
	Logger             *slog.Logger
	Notifier           Notifier
	Observers          []Observer
	EscalationTimeout  time.Duration
	MaxEscalationDepth int
	NewID              func(prefix string) string

	// AsyncEffects hands notification delivery and observers to a single
	// background worker that runs them in the order operations committed.
	// Close drains it.
	AsyncEffects bool
	EffectQueue  int
}

type effect struct {
	ctx   context.Context
	op    Operation
	graph *store.Graph
	at    time.Time
}

type Engine struct {
	store              Store
	notifier           Notifier
	observers          []Observer
	logger             *slog.Logger
	newID              func(string) string
	escalationTimeout  time.Duration
	maxEscalationDepth int

	effects     chan effect
	effectsDone chan struct{}
	closeOnce   sync.Once
}

func New(dataStore Store, opts Options) *Engine {
	engine := &Engine{
		store:              dataStore,
		notifier:           opts.Notifier,
		observers:          slices.Clone(opts.Observers),
		logger:             opts.Logger,
		newID:              opts.NewID,
		escalationTimeout:  opts.EscalationTimeout,
		maxEscalationDepth: opts.MaxEscalationDepth,
	}
	if engine.logger == nil {
		engine.logger = slog.Default()
	}
	if engine.newID == nil {
		engine.newID = util.NewID
	}
	engine.escalationTimeout = engine.escalationTimeout.Truncate(time.Second)
	if engine.escalationTimeout <= 0 {
		engine.escalationTimeout = DefaultEscalationTimeout
	}
	if engine.maxEscalationDepth <= 0 {
		engine.maxEscalationDepth = DefaultMaxEscalationDepth
	}
	if opts.AsyncEffects {
		size := opts.EffectQueue
		if size <= 0 {
			size = DefaultEffectQueue
		}
		engine.effects = make(chan effect, size)
		engine.effectsDone = make(chan struct{})
		go engine.runEffects()
	}
	return engine
}

// Close waits for queued notifications and observers to finish. No operation
// may start after Close. A synchronous engine has nothing to drain.
func (e *Engine) Close() {
	if e.effects == nil {
		return
	}
	e.closeOnce.Do(func() { close(e.effects) })
	<-e.effectsDone
}

type CreateDocumentInput struct {
	ID                 string        `validate:"omitempty,max=128"`
	Title              string        `validate:"required,max=300"`
	Body               string        `validate:"max=1000000"`
	AuthorID           string        `validate:"required"`
	EscalationTimeout  time.Duration `validate:"gte=0,whole_seconds"`
	MaxEscalationDepth int           `validate:"gte=0"`
	Now                time.Time     `validate:"required"`
}

// UpdateDocumentInput edits title and/or body; nil fields are left alone.
type UpdateDocumentInput struct {
	DocumentID string    `validate:"required"`
	EditorID   string    `validate:"required"`
	Title      *string   `validate:"omitempty,min=1,max=300"`
	Body       *string   `validate:"omitempty,max=1000000"`
	Now        time.Time `validate:"required"`
}

type SubmitInput struct {
	DocumentID  string `validate:"required"`
	AuthorID    string `validate:"required"`
	ReviewerIDs []string
	Escalation  *EscalationConfig
	Now         time.Time `validate:"required"`
}

type DecideInput struct {
	DocumentID string `validate:"required"`
	ActingID   string `validate:"required"`
	// OnBehalfOf names the delegator when a substitute acts.
	OnBehalfOf string
	Outcome    store.Outcome `validate:"required"`
	Reason     string        `validate:"max=4000"`
	Now        time.Time     `validate:"required"`
}

type DelegateInput struct {
	DocumentID   string    `validate:"required"`
	DelegatorID  string    `validate:"required"`
	SubstituteID string    `validate:"required"`
	ExpiresAt    time.Time `validate:"required"`
	Now          time.Time `validate:"required"`
}

type RevokeInput struct {
	DocumentID   string    `validate:"required"`
	DelegationID string    `validate:"required"`
	RequesterID  string    `validate:"required"`
	Now          time.Time `validate:"required"`
}

type EscalateInput struct {
	DocumentID string    `validate:"required"`
	Now        time.Time `validate:"required"`
}

type DecisionResult struct {
	Decision    store.Decision
	Document    store.Document
	CycleStatus store.DocumentStatus
	Pending     []string
}

type EscalationResult struct {
	ReviewerID string
	State      store.EscalationState
}

func (e *Engine) CreateDocument(ctx context.Context, in CreateDocumentInput) (store.Document, error) {
	if err := validateInput(in); err != nil {
		return store.Document{}, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = e.newID("doc")
	}
	timeout := in.EscalationTimeout
	if timeout == 0 {
		timeout = e.escalationTimeout
	}
	depth := in.MaxEscalationDepth
	if depth == 0 {
		depth = e.maxEscalationDepth
	}
	document := store.Document{
		ID:                 id,
		Title:              strings.TrimSpace(in.Title),
		Body:               in.Body,
		AuthorID:           in.AuthorID,
		Status:             store.StatusDraft,
		EscalationTimeout:  timeout,
		MaxEscalationDepth: depth,
		CreatedAt:          in.Now,
		UpdatedAt:          in.Now,
	}
	if err := e.store.CreateDocument(ctx, document); err != nil {
		if errors.Is(err, store.ErrConstraint) {
			return store.Document{}, withDetails(ErrDocumentExists, map[string]any{"document_id": id})
		}
		return store.Document{}, err
	}
	e.logger.Info("document created", "document_id", id, "author_id", document.AuthorID)
	e.afterCommit(ctx, OpCreate, &store.Graph{Document: document}, in.Now)
	return document, nil
}

func (e *Engine) UpdateDocument(ctx context.Context, in UpdateDocumentInput) (store.Document, error) {
	if err := validateInput(in); err != nil {
		return store.Document{}, err
	}
	committed, err := e.mutate(ctx, OpUpdate, in.DocumentID, in.Now, func(g *store.Graph) error {
		if err := checkOperation(OpUpdate, g.Document.Status); err != nil {
			return err
		}
		if in.EditorID != g.Document.AuthorID {
			return withMessage(ErrNotAuthor, "only the author may edit the document")
		}
		if in.Title != nil {
			g.Document.Title = strings.TrimSpace(*in.Title)
		}
		if in.Body != nil {
			g.Document.Body = *in.Body
		}
		g.Document.UpdatedAt = in.Now
		return nil
	})
	if err != nil {
		return store.Document{}, err
	}
	return committed.Document, nil
}

// Submit opens a new review cycle. It is legal from draft and, as a
// resubmission, from rejected; earlier cycles are left untouched.
func (e *Engine) Submit(ctx context.Context, in SubmitInput) (store.ReviewCycle, error) {
	if err := validateInput(in); err != nil {
		return store.ReviewCycle{}, err
	}
	var cycle *store.ReviewCycle
	committed, err := e.mutate(ctx, OpSubmit, in.DocumentID, in.Now, func(g *store.Graph) error {
		if err := checkOperation(OpSubmit, g.Document.Status); err != nil {
			return err
		}
		if in.AuthorID != g.Document.AuthorID {
			return ErrNotAuthor
		}
		reviewers := uniqueIDs(in.ReviewerIDs)
		if len(reviewers) == 0 {
			return ErrReviewersRequired
		}
		if in.Escalation != nil {
			ladder := escalationLadder(in.Escalation.Ladder, g.Document.MaxEscalationDepth)
			if slices.Contains(ladder, g.Document.AuthorID) {
				return withDetails(ErrSelfEscalationForbidden, map[string]any{"reviewer_id": g.Document.AuthorID})
			}
		}
		if err := transition(&g.Document, store.StatusReview, in.Now); err != nil {
			return err
		}
		cycle = startCycle(g, reviewers, in.Escalation, in.Now, e.newID)
		for _, reviewerID := range reviewers {
			notify(g, e.newID, reviewerID, in.Now, "%q is awaiting your review", g.Document.Title)
		}
		return nil
	})
	if err != nil {
		return store.ReviewCycle{}, err
	}
	submitted := committed.Cycle(cycle.ID)
	e.logger.Info("document submitted",
		"document_id", in.DocumentID,
		"cycle_index", submitted.CycleIndex,
		"reviewers", len(committed.AssignmentsFor(submitted.ID)),
	)
	return *submitted, nil
}

func (e *Engine) Decide(ctx context.Context, in DecideInput) (DecisionResult, error) {
	if err := validateInput(in); err != nil {
		return DecisionResult{}, err
	}
	if in.Outcome != store.OutcomeApproved && in.Outcome != store.OutcomeRejected {
		return DecisionResult{}, withDetails(ErrInvalidOutcome, map[string]any{"outcome": string(in.Outcome)})
	}
	var decisionID, cycleID string
	committed, err := e.mutate(ctx, OpDecide, in.DocumentID, in.Now, func(g *store.Graph) error {
		cycle := g.ActiveCycle()
		if cycle == nil {
			return withDetails(ErrDocumentNotUnderReview, map[string]any{"status": string(g.Document.Status)})
		}
		decision, err := recordDecision(g, cycle, decisionRequest{
			actingID:   in.ActingID,
			onBehalfOf: in.OnBehalfOf,
			outcome:    in.Outcome,
			reason:     in.Reason,
			now:        in.Now,
		}, e.newID)
		if err != nil {
			return err
		}
		decisionID, cycleID = decision.ID, cycle.ID
		return nil
	})
	if err != nil {
		return DecisionResult{}, err
	}

	cycle := committed.Cycle(cycleID)
	var decision store.Decision
	for _, item := range committed.DecisionsFor(cycleID) {
		if item.ID == decisionID {
			decision = *item
		}
	}
	e.logger.Info("decision recorded",
		"document_id", in.DocumentID,
		"reviewer_id", decision.ReviewerID,
		"acted_by", decision.ActedBy,
		"outcome", string(decision.Outcome),
		"status", string(committed.Document.Status),
	)
	return DecisionResult{
		Decision:    decision,
		Document:    committed.Document,
		CycleStatus: cycle.Status,
		Pending:     PendingReviewers(committed, cycle),
	}, nil
}

func (e *Engine) CreateDelegation(ctx context.Context, in DelegateInput) (store.Delegation, error) {
	if err := validateInput(in); err != nil {
		return store.Delegation{}, err
	}
	var delegationID string
	committed, err := e.mutate(ctx, OpDelegate, in.DocumentID, in.Now, func(g *store.Graph) error {
		if err := checkOperation(OpDelegate, g.Document.Status); err != nil {
			return err
		}
		delegation, err := createDelegation(g, g.ActiveCycle(), in.DelegatorID, in.SubstituteID, in.ExpiresAt, in.Now, e.newID)
		if err != nil {
			return err
		}
		delegationID = delegation.ID
		return nil
	})
	if err != nil {
		return store.Delegation{}, err
	}
	delegation := committed.Delegation(delegationID)
	e.logger.Info("delegation created",
		"document_id", in.DocumentID,
		"delegator_id", delegation.DelegatorID,
		"substitute_id", delegation.SubstituteID,
	)
	return *delegation, nil
}

func (e *Engine) RevokeDelegation(ctx context.Context, in RevokeInput) (store.Delegation, error) {
	if err := validateInput(in); err != nil {
		return store.Delegation{}, err
	}
	committed, err := e.mutate(ctx, OpRevoke, in.DocumentID, in.Now, func(g *store.Graph) error {
		if err := checkOperation(OpRevoke, g.Document.Status); err != nil {
			return err
		}
		_, err := revokeDelegation(g, g.ActiveCycle(), in.DelegationID, in.RequesterID, in.Now)
		return err
	})
	if err != nil {
		return store.Delegation{}, err
	}
	e.logger.Info("delegation revoked", "document_id", in.DocumentID, "delegation_id", in.DelegationID)
	return *committed.Delegation(in.DelegationID), nil
}

// TriggerEscalation escalates the active cycle one rung when it is due.
func (e *Engine) TriggerEscalation(ctx context.Context, in EscalateInput) (EscalationResult, error) {
	if err := validateInput(in); err != nil {
		return EscalationResult{}, err
	}
	var reviewerID, cycleID string
	committed, err := e.mutate(ctx, OpEscalate, in.DocumentID, in.Now, func(g *store.Graph) error {
		if err := checkOperation(OpEscalate, g.Document.Status); err != nil {
			return err
		}
		candidate, state, err := triggerEscalation(g, in.Now, e.newID)
		if err != nil {
			return err
		}
		reviewerID, cycleID = candidate, state.CycleID
		return nil
	})
	if err != nil {
		return EscalationResult{}, err
	}
	state := committed.EscalationFor(cycleID)
	e.logger.Info("review escalated",
		"document_id", in.DocumentID,
		"reviewer_id", reviewerID,
		"current_index", state.CurrentIndex,
		"next_escalation_at", state.NextEscalationAt,
	)
	return EscalationResult{ReviewerID: reviewerID, State: *state}, nil
}

func (e *Engine) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	g, err := e.load(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}
	return g.Document, nil
}

// PendingReviewers lists reviewers of the active cycle still owing a decision.
func (e *Engine) PendingReviewers(ctx context.Context, documentID string) ([]string, error) {
	g, err := e.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return PendingReviewers(g, g.ActiveCycle()), nil
}

func (e *Engine) ReviewerIDs(ctx context.Context, documentID string) ([]string, error) {
	g, err := e.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return ReviewerIDs(g, g.ActiveCycle()), nil
}

func (e *Engine) History(ctx context.Context, documentID string) (History, error) {
	g, err := e.load(ctx, documentID)
	if err != nil {
		return History{}, err
	}
	return BuildHistory(g), nil
}

func (e *Engine) Notifications(ctx context.Context, documentID string) ([]store.Notification, error) {
	notifications, err := e.store.ListNotifications(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	return notifications, err
}

// NotificationQuery selects the notifications of one recipient. An empty
// DocumentID spans every document.
type NotificationQuery struct {
	RecipientID string `validate:"required"`
	DocumentID  string
}

func (e *Engine) NotificationsFor(ctx context.Context, q NotificationQuery) ([]store.Notification, error) {
	if err := validateInput(q); err != nil {
		return nil, err
	}
	if q.DocumentID == "" {
		return e.store.ListRecipientNotifications(ctx, q.RecipientID)
	}
	notifications, err := e.Notifications(ctx, q.DocumentID)
	if err != nil {
		return nil, err
	}
	items := make([]store.Notification, 0, len(notifications))
	for _, notification := range notifications {
		if notification.RecipientID == q.RecipientID {
			items = append(items, notification)
		}
	}
	return items, nil
}

func (e *Engine) load(ctx context.Context, documentID string) (*store.Graph, error) {
	g, err := e.store.LoadGraph(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	return g, err
}

func (e *Engine) mutate(ctx context.Context, op Operation, documentID string, at time.Time, fn func(*store.Graph) error) (*store.Graph, error) {
	committed, err := e.store.Mutate(ctx, documentID, fn)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			e.logger.Debug("operation refused",
				"operation", string(op),
				"document_id", documentID,
				"code", domainErr.Code,
			)
		}
		return nil, err
	}
	e.afterCommit(ctx, op, committed, at)
	return committed, nil
}

// afterCommit delivers the outbox and informs observers, inline or through
// the effect worker. The queue applies backpressure when full.
func (e *Engine) afterCommit(ctx context.Context, op Operation, committed *store.Graph, at time.Time) {
	if e.effects != nil {
		e.effects <- effect{ctx: context.WithoutCancel(ctx), op: op, graph: committed, at: at}
		return
	}
	e.applyEffects(ctx, op, committed, at)
}

func (e *Engine) runEffects() {
	defer close(e.effectsDone)
	for item := range e.effects {
		e.applyEffects(item.ctx, item.op, item.graph, item.at)
	}
}

func (e *Engine) applyEffects(ctx context.Context, op Operation, committed *store.Graph, at time.Time) {
	if e.notifier != nil {
		for _, notification := range committed.Outbox {
			if err := e.notifier.Notify(ctx, notification); err != nil {
				e.logger.Warn("notification delivery failed",
					"document_id", notification.DocumentID,
					"recipient_id", notification.RecipientID,
					"error", err,
				)
			}
		}
	}
	change := Change{Operation: op, Graph: committed, At: at}
	for _, observer := range e.observers {
		observer.Observe(ctx, change)
	}
}
