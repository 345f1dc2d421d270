package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps document graphs in process. Mutations on one document are
// serialized by a per-document lock and run against a clone that replaces the
// stored graph only when the mutation succeeds.
type MemoryStore struct {
	mu            sync.RWMutex
	graphs        map[string]*Graph
	notifications map[string][]Notification
	byRecipient   map[string][]Notification

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		graphs:        make(map[string]*Graph),
		notifications: make(map[string][]Notification),
		byRecipient:   make(map[string][]Notification),
		locks:         make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) CreateDocument(ctx context.Context, document Document) error {
	lock := s.documentLock(document.ID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[document.ID]; ok {
		return fmt.Errorf("%w: document %s exists", ErrConstraint, document.ID)
	}
	s.graphs[document.ID] = &Graph{Document: document}
	return nil
}

func (s *MemoryStore) LoadGraph(ctx context.Context, documentID string) (*Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	graph, ok := s.graphs[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	return graph.Clone(), nil
}

func (s *MemoryStore) Mutate(ctx context.Context, documentID string, fn func(*Graph) error) (*Graph, error) {
	lock, ok := s.existingLock(documentID)
	if !ok {
		return nil, ErrNotFound
	}
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	working, err := s.LoadGraph(ctx, documentID)
	if err != nil {
		return nil, err
	}
	working.Outbox = nil
	if err := fn(working); err != nil {
		return nil, err
	}
	if err := working.CheckConstraints(); err != nil {
		return nil, err
	}

	committed := working.Clone()
	committed.Outbox = nil

	s.mu.Lock()
	s.graphs[documentID] = committed
	s.notifications[documentID] = append(s.notifications[documentID], working.Outbox...)
	for _, notification := range working.Outbox {
		s.byRecipient[notification.RecipientID] = append(s.byRecipient[notification.RecipientID], notification)
	}
	s.mu.Unlock()

	return working, nil
}

func (s *MemoryStore) ListNotifications(ctx context.Context, documentID string) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.graphs[documentID]; !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(s.notifications[documentID]), nil
}

// ListRecipientNotifications returns every notification addressed to
// recipientID across documents, in commit order.
func (s *MemoryStore) ListRecipientNotifications(ctx context.Context, recipientID string) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := slices.Clone(s.byRecipient[recipientID])
	if items == nil {
		items = make([]Notification, 0)
	}
	return items, nil
}

// ListDueEscalations returns ids of documents under review whose escalation
// is due at now, oldest due time first.
func (s *MemoryStore) ListDueEscalations(ctx context.Context, now time.Time, limit int) ([]string, error) {
	type due struct {
		documentID string
		at         time.Time
	}

	s.mu.RLock()
	items := make([]due, 0)
	for id, graph := range s.graphs {
		if at, ok := graph.dueAt(now); ok {
			items = append(items, due{documentID: id, at: at})
		}
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].at.Equal(items[j].at) {
			return items[i].documentID < items[j].documentID
		}
		return items[i].at.Before(items[j].at)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.documentID)
	}
	return ids, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// existingLock returns the lock of a created document. Documents are never
// removed, so a lock exists exactly when the document does.
func (s *MemoryStore) existingLock(documentID string) (*sync.Mutex, bool) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	return lock, ok
}

func (s *MemoryStore) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}
