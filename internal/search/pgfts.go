package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the engine is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across documents and decisions
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := "d.fts @@ " + tsQuery
		if q.FilterDocumentID != "" {
			docWhere += fmt.Sprintf(" AND d.id = $%d", argN)
			args = append(args, q.FilterDocumentID)
			argN++
		}
		if q.FilterStatus != "" {
			docWhere += fmt.Sprintf(" AND d.status = $%d", argN)
			args = append(args, q.FilterStatus)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				ts_headline('english', d.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.id AS document_id, d.status,
				ts_rank(d.fts, %s) AS rank
			FROM documents d
			WHERE %s`, tsQuery, tsQuery, docWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultDecision {
		decWhere := "x.fts @@ " + tsQuery
		if q.FilterDocumentID != "" {
			decWhere += fmt.Sprintf(" AND c.document_id = $%d", argN)
			args = append(args, q.FilterDocumentID)
			argN++
		}
		if q.FilterStatus != "" {
			decWhere += fmt.Sprintf(" AND x.outcome = $%d", argN)
			args = append(args, q.FilterStatus)
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'decision'::text AS type, x.id, x.reviewer_id AS title,
				ts_headline('english', x.reason, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.document_id, x.outcome AS status,
				ts_rank(x.fts, %s) AS rank
			FROM decisions x
			JOIN review_cycles c ON c.id = x.cycle_id
			WHERE %s`, tsQuery, tsQuery, decWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id, status
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []DecisionRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.body, d.author_id, d.status,
			coalesce(c.cycle_index, 0),
			coalesce((
				SELECT json_agg(a.reviewer_id ORDER BY a.seq)
				FROM reviewer_assignments a
				WHERE a.cycle_id = c.id AND a.active
			), '[]'::json),
			coalesce((
				SELECT json_agg(a.reviewer_id ORDER BY a.seq)
				FROM reviewer_assignments a
				WHERE a.cycle_id = c.id AND a.active
				  AND NOT EXISTS (
					SELECT 1 FROM decisions x
					WHERE x.cycle_id = a.cycle_id AND x.reviewer_id = a.reviewer_id
				  )
			), '[]'::json),
			extract(epoch FROM d.updated_at)::bigint
		FROM documents d
		LEFT JOIN LATERAL (
			SELECT id, cycle_index FROM review_cycles
			WHERE document_id = d.id
			ORDER BY cycle_index DESC
			LIMIT 1
		) c ON true
		ORDER BY d.id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		var reviewers, pending []byte
		if err := docRows.Scan(&d.ID, &d.Title, &d.Body, &d.AuthorID, &d.Status, &d.CycleIndex, &reviewers, &pending, &d.UpdatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal(reviewers, &d.Reviewers); err != nil {
			return nil, nil, fmt.Errorf("decode reviewers for %s: %w", d.ID, err)
		}
		if err := json.Unmarshal(pending, &d.Pending); err != nil {
			return nil, nil, fmt.Errorf("decode pending for %s: %w", d.ID, err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	decisionRows, err := p.db.QueryContext(ctx, `
		SELECT x.id, c.document_id, c.cycle_index, x.reviewer_id, x.acted_by,
			x.outcome, x.reason, extract(epoch FROM x.decided_at)::bigint
		FROM decisions x
		JOIN review_cycles c ON c.id = x.cycle_id
		ORDER BY x.seq
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load decisions: %w", err)
	}
	defer decisionRows.Close()

	decisions := make([]DecisionRecord, 0)
	for decisionRows.Next() {
		var d DecisionRecord
		if err := decisionRows.Scan(&d.ID, &d.DocumentID, &d.CycleIndex, &d.ReviewerID, &d.ActedBy, &d.Outcome, &d.Reason, &d.DecidedAt); err != nil {
			return nil, nil, fmt.Errorf("scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	if err := decisionRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate decisions: %w", err)
	}

	return documents, decisions, nil
}
