package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) CreateDocument(ctx context.Context, document Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, body, author_id, status, escalation_timeout_seconds, max_escalation_depth, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, document.ID, document.Title, document.Body, document.AuthorID, string(document.Status),
		int64(document.EscalationTimeout/time.Second), document.MaxEscalationDepth, document.CreatedAt, document.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", mapPgError(err))
	}
	return nil
}

func (s *PostgresStore) LoadGraph(ctx context.Context, documentID string) (*Graph, error) {
	return loadGraph(ctx, s.db, documentID, false)
}

// Mutate locks the document row for the length of the transaction, so two
// mutations of the same document never interleave. Only entities that are new
// or changed relative to the loaded graph are written.
func (s *PostgresStore) Mutate(ctx context.Context, documentID string, fn func(*Graph) error) (*Graph, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin mutation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := loadGraph(ctx, tx, documentID, true)
	if err != nil {
		return nil, err
	}
	working := before.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	if err := working.CheckConstraints(); err != nil {
		return nil, err
	}
	if err := saveGraph(ctx, tx, before, working); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mutation: %w", err)
	}
	return working, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, documentID string) ([]Notification, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id=$1)`, documentID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check document: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, recipient_id, message, created_at
		FROM notifications
		WHERE document_id=$1
		ORDER BY seq
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return scanNotifications(rows)
}

func (s *PostgresStore) ListRecipientNotifications(ctx context.Context, recipientID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, recipient_id, message, created_at
		FROM notifications
		WHERE recipient_id=$1
		ORDER BY seq
	`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list recipient notifications: %w", err)
	}
	return scanNotifications(rows)
}

func scanNotifications(rows *sql.Rows) ([]Notification, error) {
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.RecipientID, &item.Message, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListDueEscalations(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id
		FROM escalation_states e
		JOIN review_cycles c ON c.id = e.cycle_id
		JOIN documents d ON d.id = c.document_id
		WHERE d.status = 'review'
			AND c.status = 'review'
			AND e.current_index < jsonb_array_length(e.ladder)
			AND e.next_escalation_at <= $1
		ORDER BY e.next_escalation_at, d.id
		LIMIT $2
	`, now, limitArg)
	if err != nil {
		return nil, fmt.Errorf("list due escalations: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan due escalation: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due escalations: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func loadGraph(ctx context.Context, q queryer, documentID string, forUpdate bool) (*Graph, error) {
	query := `
		SELECT id, title, body, author_id, status, escalation_timeout_seconds, max_escalation_depth, created_at, updated_at
		FROM documents
		WHERE id=$1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	graph := &Graph{}
	var status string
	var timeoutSeconds int64
	err := q.QueryRowContext(ctx, query, documentID).Scan(
		&graph.Document.ID,
		&graph.Document.Title,
		&graph.Document.Body,
		&graph.Document.AuthorID,
		&status,
		&timeoutSeconds,
		&graph.Document.MaxEscalationDepth,
		&graph.Document.CreatedAt,
		&graph.Document.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	graph.Document.Status = DocumentStatus(status)
	graph.Document.EscalationTimeout = time.Duration(timeoutSeconds) * time.Second

	if err := loadCycles(ctx, q, graph); err != nil {
		return nil, err
	}
	if err := loadAssignments(ctx, q, graph); err != nil {
		return nil, err
	}
	if err := loadDecisions(ctx, q, graph); err != nil {
		return nil, err
	}
	if err := loadDelegations(ctx, q, graph); err != nil {
		return nil, err
	}
	if err := loadEscalations(ctx, q, graph); err != nil {
		return nil, err
	}
	return graph, nil
}

func loadCycles(ctx context.Context, q queryer, graph *Graph) error {
	rows, err := q.QueryContext(ctx, `
		SELECT id, document_id, cycle_index, status, created_at
		FROM review_cycles
		WHERE document_id=$1
		ORDER BY cycle_index
	`, graph.Document.ID)
	if err != nil {
		return fmt.Errorf("load cycles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item ReviewCycle
		var status string
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.CycleIndex, &status, &item.CreatedAt); err != nil {
			return fmt.Errorf("scan cycle: %w", err)
		}
		item.Status = DocumentStatus(status)
		graph.Cycles = append(graph.Cycles, &item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate cycles: %w", err)
	}
	return nil
}

func loadAssignments(ctx context.Context, q queryer, graph *Graph) error {
	rows, err := q.QueryContext(ctx, `
		SELECT a.id, a.cycle_id, a.reviewer_id, a.active, a.escalated, a.assigned_at
		FROM reviewer_assignments a
		JOIN review_cycles c ON c.id = a.cycle_id
		WHERE c.document_id=$1
		ORDER BY c.cycle_index, a.seq
	`, graph.Document.ID)
	if err != nil {
		return fmt.Errorf("load assignments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item ReviewerAssignment
		if err := rows.Scan(&item.ID, &item.CycleID, &item.ReviewerID, &item.Active, &item.Escalated, &item.AssignedAt); err != nil {
			return fmt.Errorf("scan assignment: %w", err)
		}
		graph.Assignments = append(graph.Assignments, &item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate assignments: %w", err)
	}
	return nil
}

func loadDecisions(ctx context.Context, q queryer, graph *Graph) error {
	rows, err := q.QueryContext(ctx, `
		SELECT d.id, d.cycle_id, d.reviewer_id, d.outcome, d.acted_by, d.reason, d.decided_at
		FROM decisions d
		JOIN review_cycles c ON c.id = d.cycle_id
		WHERE c.document_id=$1
		ORDER BY c.cycle_index, d.seq
	`, graph.Document.ID)
	if err != nil {
		return fmt.Errorf("load decisions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item Decision
		var outcome string
		if err := rows.Scan(&item.ID, &item.CycleID, &item.ReviewerID, &outcome, &item.ActedBy, &item.Reason, &item.DecidedAt); err != nil {
			return fmt.Errorf("scan decision: %w", err)
		}
		item.Outcome = Outcome(outcome)
		graph.Decisions = append(graph.Decisions, &item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate decisions: %w", err)
	}
	return nil
}

func loadDelegations(ctx context.Context, q queryer, graph *Graph) error {
	rows, err := q.QueryContext(ctx, `
		SELECT g.id, g.cycle_id, g.delegator_id, g.substitute_id, g.expires_at, g.revoked_at, g.created_at
		FROM delegations g
		JOIN review_cycles c ON c.id = g.cycle_id
		WHERE c.document_id=$1
		ORDER BY c.cycle_index, g.seq
	`, graph.Document.ID)
	if err != nil {
		return fmt.Errorf("load delegations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item Delegation
		var revokedAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.CycleID, &item.DelegatorID, &item.SubstituteID, &item.ExpiresAt, &revokedAt, &item.CreatedAt); err != nil {
			return fmt.Errorf("scan delegation: %w", err)
		}
		if revokedAt.Valid {
			item.RevokedAt = &revokedAt.Time
		}
		graph.Delegations = append(graph.Delegations, &item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate delegations: %w", err)
	}
	return nil
}

func loadEscalations(ctx context.Context, q queryer, graph *Graph) error {
	rows, err := q.QueryContext(ctx, `
		SELECT e.id, e.cycle_id, e.timeout_seconds, e.ladder, e.current_index, e.next_escalation_at, e.last_escalated_at
		FROM escalation_states e
		JOIN review_cycles c ON c.id = e.cycle_id
		WHERE c.document_id=$1
		ORDER BY c.cycle_index
	`, graph.Document.ID)
	if err != nil {
		return fmt.Errorf("load escalation states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item EscalationState
		var timeoutSeconds int64
		var ladder []byte
		var lastEscalatedAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.CycleID, &timeoutSeconds, &ladder, &item.CurrentIndex, &item.NextEscalationAt, &lastEscalatedAt); err != nil {
			return fmt.Errorf("scan escalation state: %w", err)
		}
		if err := json.Unmarshal(ladder, &item.Ladder); err != nil {
			return fmt.Errorf("decode escalation ladder: %w", err)
		}
		item.Timeout = time.Duration(timeoutSeconds) * time.Second
		if lastEscalatedAt.Valid {
			item.LastEscalatedAt = &lastEscalatedAt.Time
		}
		graph.Escalations = append(graph.Escalations, &item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate escalation states: %w", err)
	}
	return nil
}

func saveGraph(ctx context.Context, tx *sql.Tx, before, after *Graph) error {
	if after.Document != before.Document {
		if after.Document.AuthorID != before.Document.AuthorID {
			return fmt.Errorf("%w: author of %s is immutable", ErrConstraint, after.Document.ID)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE documents
			SET title=$2, body=$3, status=$4, escalation_timeout_seconds=$5, max_escalation_depth=$6, updated_at=$7
			WHERE id=$1
		`, after.Document.ID, after.Document.Title, after.Document.Body, string(after.Document.Status),
			int64(after.Document.EscalationTimeout/time.Second), after.Document.MaxEscalationDepth, after.Document.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
	}

	cycles := indexByID(before.Cycles, func(c *ReviewCycle) string { return c.ID })
	for _, cycle := range after.Cycles {
		previous, ok := cycles[cycle.ID]
		switch {
		case !ok:
			_, err := tx.ExecContext(ctx, `
				INSERT INTO review_cycles (id, document_id, cycle_index, status, created_at)
				VALUES ($1, $2, $3, $4, $5)
			`, cycle.ID, cycle.DocumentID, cycle.CycleIndex, string(cycle.Status), cycle.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert cycle: %w", mapPgError(err))
			}
		case *previous != *cycle:
			_, err := tx.ExecContext(ctx, `UPDATE review_cycles SET status=$2 WHERE id=$1`, cycle.ID, string(cycle.Status))
			if err != nil {
				return fmt.Errorf("update cycle: %w", mapPgError(err))
			}
		}
	}

	assignments := indexByID(before.Assignments, func(a *ReviewerAssignment) string { return a.ID })
	for _, assignment := range after.Assignments {
		previous, ok := assignments[assignment.ID]
		switch {
		case !ok:
			_, err := tx.ExecContext(ctx, `
				INSERT INTO reviewer_assignments (id, cycle_id, reviewer_id, active, escalated, assigned_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, assignment.ID, assignment.CycleID, assignment.ReviewerID, assignment.Active, assignment.Escalated, assignment.AssignedAt)
			if err != nil {
				return fmt.Errorf("insert assignment: %w", mapPgError(err))
			}
		case *previous != *assignment:
			_, err := tx.ExecContext(ctx, `UPDATE reviewer_assignments SET active=$2 WHERE id=$1`, assignment.ID, assignment.Active)
			if err != nil {
				return fmt.Errorf("update assignment: %w", err)
			}
		}
	}

	decisions := indexByID(before.Decisions, func(d *Decision) string { return d.ID })
	for _, decision := range after.Decisions {
		previous, ok := decisions[decision.ID]
		if ok {
			if *previous != *decision {
				return fmt.Errorf("%w: decision %s is immutable", ErrConstraint, decision.ID)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO decisions (id, cycle_id, reviewer_id, outcome, acted_by, reason, decided_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, decision.ID, decision.CycleID, decision.ReviewerID, string(decision.Outcome), decision.ActedBy, decision.Reason, decision.DecidedAt)
		if err != nil {
			return fmt.Errorf("insert decision: %w", mapPgError(err))
		}
	}

	delegations := indexByID(before.Delegations, func(d *Delegation) string { return d.ID })
	for _, delegation := range after.Delegations {
		previous, ok := delegations[delegation.ID]
		switch {
		case !ok:
			_, err := tx.ExecContext(ctx, `
				INSERT INTO delegations (id, cycle_id, delegator_id, substitute_id, expires_at, revoked_at, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, delegation.ID, delegation.CycleID, delegation.DelegatorID, delegation.SubstituteID, delegation.ExpiresAt, nullTime(delegation.RevokedAt), delegation.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert delegation: %w", mapPgError(err))
			}
		case !equalTimePtr(previous.RevokedAt, delegation.RevokedAt):
			_, err := tx.ExecContext(ctx, `UPDATE delegations SET revoked_at=$2 WHERE id=$1`, delegation.ID, nullTime(delegation.RevokedAt))
			if err != nil {
				return fmt.Errorf("update delegation: %w", err)
			}
		}
	}

	escalations := indexByID(before.Escalations, func(e *EscalationState) string { return e.ID })
	for _, state := range after.Escalations {
		previous, ok := escalations[state.ID]
		if ok && previous.CurrentIndex == state.CurrentIndex &&
			previous.NextEscalationAt.Equal(state.NextEscalationAt) &&
			equalTimePtr(previous.LastEscalatedAt, state.LastEscalatedAt) {
			continue
		}
		if !ok {
			ladder, err := json.Marshal(nonNilLadder(state.Ladder))
			if err != nil {
				return fmt.Errorf("encode escalation ladder: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO escalation_states (id, cycle_id, timeout_seconds, ladder, current_index, next_escalation_at, last_escalated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, state.ID, state.CycleID, int64(state.Timeout/time.Second), string(ladder), state.CurrentIndex, state.NextEscalationAt, nullTime(state.LastEscalatedAt))
			if err != nil {
				return fmt.Errorf("insert escalation state: %w", mapPgError(err))
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE escalation_states
			SET current_index=$2, next_escalation_at=$3, last_escalated_at=$4
			WHERE id=$1
		`, state.ID, state.CurrentIndex, state.NextEscalationAt, nullTime(state.LastEscalatedAt))
		if err != nil {
			return fmt.Errorf("update escalation state: %w", err)
		}
	}

	for _, notification := range after.Outbox {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (id, document_id, recipient_id, message, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, notification.ID, notification.DocumentID, notification.RecipientID, notification.Message, notification.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}
	return nil
}

func indexByID[T any](items []*T, id func(*T) string) map[string]*T {
	index := make(map[string]*T, len(items))
	for _, item := range items {
		index[id(item)] = item
	}
	return index
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConstraint, pgErr.ConstraintName)
	}
	return err
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func nonNilLadder(ladder []string) []string {
	if ladder == nil {
		return []string{}
	}
	return slices.Clone(ladder)
}
