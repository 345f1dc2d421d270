package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	defaultSearchLimit  = 20
	healthCheckInterval = 10 * time.Second
)

var errMeiliUnhealthy = errors.New("meilisearch unhealthy")

// meiliIndex describes one Meilisearch index and how queries against it are
// filtered.
type meiliIndex struct {
	uid        string
	resultType ResultType
	filterable []string
	searchable []string
	// documentField and statusField name the attributes behind
	// Query.FilterDocumentID and Query.FilterStatus.
	documentField string
	statusField   string
}

var meiliIndexes = []meiliIndex{
	{
		uid:           "approvals_documents",
		resultType:    ResultDocument,
		filterable:    []string{"id", "status", "authorId", "reviewers", "pending"},
		searchable:    []string{"title", "body"},
		documentField: "id",
		statusField:   "status",
	},
	{
		uid:           "approvals_decisions",
		resultType:    ResultDecision,
		filterable:    []string{"outcome", "documentId", "reviewerId", "actedBy"},
		searchable:    []string{"reason"},
		documentField: "documentId",
		statusField:   "outcome",
	},
}

func meiliIndexFor(resultType ResultType) meiliIndex {
	for _, index := range meiliIndexes {
		if index.resultType == resultType {
			return index
		}
	}
	panic(fmt.Sprintf("search: no meilisearch index for %q", resultType))
}

// Meili keeps document and decision records in Meilisearch. It tracks server
// health in the background and refuses queries while the server is down.
type Meili struct {
	client  meili.ServiceManager
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili never fails on an unreachable server; the client stays unhealthy
// until a later health check succeeds.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger.With("component", "meilisearch", "url", url),
		done:   make(chan struct{}),
	}
	m.checkHealth()
	if !m.Healthy() {
		m.logger.Warn("meilisearch unavailable, searches fall back until it recovers")
	}
	go m.watchHealth(healthCheckInterval)
	return m
}

// checkHealth pings the server and sets up the indexes whenever it comes back.
func (m *Meili) checkHealth() {
	_, err := m.client.Health()
	up := err == nil
	was := m.healthy.Swap(up)
	switch {
	case up && !was:
		m.logger.Info("meilisearch reachable, applying index settings")
		m.ensureIndexes()
	case !up && was:
		m.logger.Warn("meilisearch unreachable", "error", err)
	case !up:
		m.logger.Debug("meilisearch still unreachable", "error", err)
	}
}

func (m *Meili) watchHealth(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

func (m *Meili) ensureIndexes() {
	for _, spec := range meiliIndexes {
		logger := m.logger.With("index", spec.uid)
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: spec.uid, PrimaryKey: "id"}); err != nil {
			logger.Debug("create index skipped", "error", err)
		}

		index := m.client.Index(spec.uid)
		filterable := make([]interface{}, 0, len(spec.filterable))
		for _, attribute := range spec.filterable {
			filterable = append(filterable, attribute)
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			logger.Warn("filterable attributes not applied", "error", err)
		}
		searchable := spec.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			logger.Warn("searchable attributes not applied", "error", err)
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs one multi-search across the indexes the query selects. A
// failed request marks the server unhealthy until the next health check.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.Healthy() {
		return nil, 0, errMeiliUnhealthy
	}
	requests := searchRequests(q)
	if len(requests) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: requests})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, page := range resp.Results {
		total += int(page.EstimatedTotalHits)
		resultType := resultTypeOf(page.IndexUID)
		for _, hit := range page.Hits {
			result, err := resultFromHit(hit, resultType)
			if err != nil {
				m.logger.Debug("skipping undecodable hit", "index", page.IndexUID, "error", err)
				continue
			}
			results = append(results, result)
		}
	}
	return results, total, nil
}

func searchRequests(q Query) []*meili.SearchRequest {
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	requests := make([]*meili.SearchRequest, 0, len(meiliIndexes))
	for _, index := range meiliIndexes {
		if q.FilterType != "" && q.FilterType != index.resultType {
			continue
		}
		request := &meili.SearchRequest{
			IndexUID:              index.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}
		if filters := index.filters(q); len(filters) > 0 {
			request.Filter = filters
		}
		requests = append(requests, request)
	}
	return requests
}

func (index meiliIndex) filters(q Query) []string {
	var filters []string
	if q.FilterDocumentID != "" {
		filters = append(filters, fmt.Sprintf("%s = %q", index.documentField, q.FilterDocumentID))
	}
	if q.FilterStatus != "" {
		filters = append(filters, fmt.Sprintf("%s = %q", index.statusField, q.FilterStatus))
	}
	return filters
}

func resultTypeOf(uid string) ResultType {
	for _, index := range meiliIndexes {
		if index.uid == uid {
			return index.resultType
		}
	}
	return ""
}

// hitFields covers the string attributes of both record types. Highlighted
// copies arrive under _formatted.
type hitFields struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"documentId"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Status     string     `json:"status"`
	ReviewerID string     `json:"reviewerId"`
	Outcome    string     `json:"outcome"`
	Reason     string     `json:"reason"`
	Formatted  *hitFields `json:"_formatted"`
}

func resultFromHit(hit meili.Hit, resultType ResultType) (Result, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return Result{}, err
	}
	var fields hitFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Result{}, err
	}
	highlighted := fields.Formatted
	if highlighted == nil {
		highlighted = &hitFields{}
	}

	result := Result{Type: resultType, ID: fields.ID}
	switch resultType {
	case ResultDocument:
		result.DocumentID = fields.ID
		result.Title = preferHighlight(highlighted.Title, fields.Title)
		result.Snippet = preferHighlight(highlighted.Body, fields.Body)
		result.Status = fields.Status
	case ResultDecision:
		result.DocumentID = fields.DocumentID
		result.Title = fields.ReviewerID
		result.Snippet = preferHighlight(highlighted.Reason, fields.Reason)
		result.Status = fields.Outcome
	}
	return result, nil
}

func preferHighlight(highlighted, plain string) string {
	if trimmed := strings.TrimSpace(highlighted); trimmed != "" {
		return trimmed
	}
	return plain
}

func (m *Meili) IndexDocument(doc DocumentRecord) error {
	return m.IndexDocuments([]DocumentRecord{doc})
}

func (m *Meili) IndexDocuments(documents []DocumentRecord) error {
	if len(documents) == 0 {
		return nil
	}
	_, err := m.client.Index(meiliIndexFor(ResultDocument).uid).AddDocuments(documents, nil)
	return err
}

func (m *Meili) IndexDecisions(decisions []DecisionRecord) error {
	if len(decisions) == 0 {
		return nil
	}
	_, err := m.client.Index(meiliIndexFor(ResultDecision).uid).AddDocuments(decisions, nil)
	return err
}
