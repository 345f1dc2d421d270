package search

import (
	"context"
	"log/slog"
	"sync"

	"github.com/SpecLeft/specleft-delta-demo/internal/workflow"
)

type indexBackend interface {
	Searcher
	Indexer
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
// It observes committed workflow changes and keeps the index current.
type Service struct {
	index    indexBackend
	fallback Searcher
	logger   *slog.Logger
	pending  sync.WaitGroup

	mu   sync.Mutex
	tail chan struct{}
}

// NewService creates a search service. Either backend may be nil.
func NewService(meili *Meili, pgfts *PgFTS, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{logger: logger.With("component", "search")}
	if meili != nil {
		s.index = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Observe indexes the document touched by a committed change (fire-and-forget).
func (s *Service) Observe(_ context.Context, change workflow.Change) {
	if change.Graph == nil {
		return
	}
	document := DocumentRecordFrom(change.Graph)
	var decisions []DecisionRecord
	if change.Operation == workflow.OpDecide {
		decisions = DecisionRecordsFrom(change.Graph)
	}
	s.IndexDocument(document)
	s.IndexDecisions(decisions)
}

// IndexDocument indexes a document (fire-and-forget to Meilisearch).
func (s *Service) IndexDocument(doc DocumentRecord) {
	s.async(func(index Indexer) {
		if err := index.IndexDocument(doc); err != nil {
			s.logger.Warn("index document", "document_id", doc.ID, "error", err)
		}
	})
}

// IndexDecisions indexes decision records (fire-and-forget to Meilisearch).
func (s *Service) IndexDecisions(decisions []DecisionRecord) {
	if len(decisions) == 0 {
		return
	}
	s.async(func(index Indexer) {
		if err := index.IndexDecisions(decisions); err != nil {
			s.logger.Warn("index decisions", "count", len(decisions), "error", err)
		}
	})
}

func (s *Service) async(fn func(Indexer)) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	// Writes are chained so the index sees changes in commit order.
	s.mu.Lock()
	prev := s.tail
	done := make(chan struct{})
	s.tail = done
	s.pending.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pending.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		fn(s.index)
	}()
}

// Wait blocks until in-flight index writes finish.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	pgfts, ok := s.fallback.(*PgFTS)
	if s.index == nil || !s.index.Healthy() || !ok {
		return
	}
	documents, decisions, err := pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", "error", err)
		return
	}
	s.reindex(documents, decisions)
}

func (s *Service) reindex(documents []DocumentRecord, decisions []DecisionRecord) {
	if len(documents) > 0 {
		if err := s.index.IndexDocuments(documents); err != nil {
			s.logger.Warn("reindex documents", "error", err)
		}
	}
	if len(decisions) > 0 {
		if err := s.index.IndexDecisions(decisions); err != nil {
			s.logger.Warn("reindex decisions", "error", err)
		}
	}
	s.logger.Info("search reindex complete", "documents", len(documents), "decisions", len(decisions))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

var _ workflow.Observer = (*Service)(nil)
