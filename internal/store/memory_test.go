package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemoryStore(t *testing.T, graphs ...*Graph) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()
	for _, graph := range graphs {
		require.NoError(t, s.CreateDocument(ctx, graph.Document))
		_, err := s.Mutate(ctx, graph.Document.ID, func(g *Graph) error {
			seeded := graph.Clone()
			seeded.Outbox = nil
			*g = *seeded
			return nil
		})
		require.NoError(t, err)
	}
	return s
}

func TestMemoryStoreCreateAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	doc := Document{ID: "doc-1", Title: "Plan", AuthorID: "alice", Status: StatusDraft, CreatedAt: baseTime, UpdatedAt: baseTime}

	require.NoError(t, s.CreateDocument(ctx, doc))
	err := s.CreateDocument(ctx, doc)
	assert.True(t, errors.Is(err, ErrConstraint))

	graph, err := s.LoadGraph(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc, graph.Document)

	_, err = s.LoadGraph(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreMutateDiscardsFailedChanges(t *testing.T) {
	ctx := context.Background()
	s := seedMemoryStore(t, reviewGraph("doc-1"))

	boom := errors.New("boom")
	_, err := s.Mutate(ctx, "doc-1", func(g *Graph) error {
		g.Document.Status = StatusApproved
		g.Notify(Notification{ID: "n1", DocumentID: "doc-1", RecipientID: "alice", Message: "approved"})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	graph, err := s.LoadGraph(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, StatusReview, graph.Document.Status)
	notifications, err := s.ListNotifications(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, notifications)
}

func TestMemoryStoreMutateRejectsConstraintViolations(t *testing.T) {
	ctx := context.Background()
	s := seedMemoryStore(t, reviewGraph("doc-1"))

	_, err := s.Mutate(ctx, "doc-1", func(g *Graph) error {
		g.AddAssignment(ReviewerAssignment{ID: "dup", CycleID: "doc-1-c1", ReviewerID: "bob"})
		return nil
	})
	assert.ErrorIs(t, err, ErrConstraint)

	graph, err := s.LoadGraph(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, graph.Assignments, 1)
}

func TestMemoryStoreMutatePersistsOutbox(t *testing.T) {
	ctx := context.Background()
	s := seedMemoryStore(t, reviewGraph("doc-1"))

	committed, err := s.Mutate(ctx, "doc-1", func(g *Graph) error {
		g.Notify(Notification{ID: "n1", DocumentID: "doc-1", RecipientID: "bob", Message: "please review"})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, committed.Outbox, 1)

	again, err := s.Mutate(ctx, "doc-1", func(g *Graph) error {
		assert.Empty(t, g.Outbox)
		g.Notify(Notification{ID: "n2", DocumentID: "doc-1", RecipientID: "carol", Message: "escalated"})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, again.Outbox, 1)

	notifications, err := s.ListNotifications(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	assert.Equal(t, "n1", notifications[0].ID)
	assert.Equal(t, "n2", notifications[1].ID)

	_, err = s.ListNotifications(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	inbox, err := s.ListRecipientNotifications(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "n2", inbox[0].ID)
	inbox, err = s.ListRecipientNotifications(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, inbox)
	assert.Empty(t, inbox)
}

func TestMemoryStoreMutateUnknownDocumentAllocatesNoLock(t *testing.T) {
	s := NewMemoryStore()

	called := false
	_, err := s.Mutate(context.Background(), "missing", func(g *Graph) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, called)

	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	assert.Empty(t, s.locks)
}

func TestMemoryStoreMutateHonorsCanceledContext(t *testing.T) {
	s := seedMemoryStore(t, reviewGraph("doc-1"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := s.Mutate(ctx, "doc-1", func(g *Graph) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMemoryStoreSerializesMutationsPerDocument(t *testing.T) {
	ctx := context.Background()
	s := seedMemoryStore(t, reviewGraph("doc-1"))

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Mutate(ctx, "doc-1", func(g *Graph) error {
				g.AddAssignment(ReviewerAssignment{
					ID:         fmt.Sprintf("a-%d", i),
					CycleID:    "doc-1-c1",
					ReviewerID: fmt.Sprintf("reviewer-%d", i),
					Active:     true,
				})
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	graph, err := s.LoadGraph(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, graph.Assignments, workers+1)
}

func TestMemoryStoreListDueEscalations(t *testing.T) {
	ctx := context.Background()
	early := reviewGraph("doc-early")
	early.Escalations[0].NextEscalationAt = baseTime.Add(30 * time.Minute)
	late := reviewGraph("doc-late")
	exhausted := reviewGraph("doc-exhausted")
	exhausted.Escalations[0].CurrentIndex = 2
	approved := reviewGraph("doc-approved")
	approved.Document.Status = StatusApproved
	approved.Cycles[0].Status = StatusApproved

	s := seedMemoryStore(t, late, early, exhausted, approved)

	ids, err := s.ListDueEscalations(ctx, baseTime, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.ListDueEscalations(ctx, baseTime.Add(2*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-early", "doc-late"}, ids)

	ids, err = s.ListDueEscalations(ctx, baseTime.Add(2*time.Hour), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-early"}, ids)
}
