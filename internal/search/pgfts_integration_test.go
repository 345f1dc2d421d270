package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
	"github.com/SpecLeft/specleft-delta-demo/internal/workflow"
)

func TestPgFTSSearchesDocumentsAndDecisions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("APPROVALS_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("APPROVALS_TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()

	db, err := store.Open(ctx, dsn, store.DefaultPoolOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err)
	require.NoError(t, store.ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations"), discardLogger()))

	engine := workflow.New(store.NewPostgresStore(db), workflow.Options{Logger: discardLogger()})
	doc, err := engine.CreateDocument(ctx, workflow.CreateDocumentInput{
		Title:    "Data retention policy",
		Body:     "Application logs are retained for thirty days.",
		AuthorID: "alice",
		Now:      t0,
	})
	require.NoError(t, err)
	_, err = engine.Submit(ctx, workflow.SubmitInput{DocumentID: doc.ID, AuthorID: "alice", ReviewerIDs: []string{"bob"}, Now: t0})
	require.NoError(t, err)
	_, err = engine.Decide(ctx, workflow.DecideInput{DocumentID: doc.ID, ActingID: "bob", Outcome: store.OutcomeRejected, Reason: "retention must cover audit logs", Now: t0.Add(time.Minute)})
	require.NoError(t, err)

	pgfts := NewPgFTS(db)
	results, total, err := pgfts.Search(ctx, Query{Text: "retention"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, results, 2)

	decisions, _, err := pgfts.Search(ctx, Query{Text: "retention", FilterType: ResultDecision, FilterStatus: "rejected"})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, doc.ID, decisions[0].DocumentID)
	assert.Equal(t, "bob", decisions[0].Title)

	documents, records, err := pgfts.LoadAllRecords(ctx)
	require.NoError(t, err)
	require.Len(t, documents, 1)
	assert.Equal(t, "rejected", documents[0].Status)
	assert.Equal(t, []string{"bob"}, documents[0].Reviewers)
	assert.Empty(t, documents[0].Pending)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].CycleIndex)
}
