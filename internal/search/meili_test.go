package search

import (
	"encoding/json"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRequestsApplyFiltersPerIndex(t *testing.T) {
	requests := searchRequests(Query{Text: "retention", FilterDocumentID: "doc_1", FilterStatus: "rejected"})
	require.Len(t, requests, 2)

	assert.Equal(t, "approvals_documents", requests[0].IndexUID)
	assert.Equal(t, int64(defaultSearchLimit), requests[0].Limit)
	assert.Equal(t, []string{`id = "doc_1"`, `status = "rejected"`}, requests[0].Filter)

	assert.Equal(t, "approvals_decisions", requests[1].IndexUID)
	assert.Equal(t, []string{`documentId = "doc_1"`, `outcome = "rejected"`}, requests[1].Filter)

	only := searchRequests(Query{Text: "owner", FilterType: ResultDecision, Limit: 5})
	require.Len(t, only, 1)
	assert.Equal(t, "approvals_decisions", only[0].IndexUID)
	assert.Equal(t, int64(5), only[0].Limit)
	assert.Nil(t, only[0].Filter)
}

func TestResultFromHitPrefersHighlights(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"doc_1"`),
		"title":      json.RawMessage(`"Retention policy"`),
		"body":       json.RawMessage(`"Logs are kept for 30 days."`),
		"status":     json.RawMessage(`"review"`),
		"reviewers":  json.RawMessage(`["bob"]`),
		"updatedAt":  json.RawMessage(`1777885200`),
		"_formatted": json.RawMessage(`{"title":"<mark>Retention</mark> policy","body":"  "}`),
	}
	result, err := resultFromHit(hit, ResultDocument)
	require.NoError(t, err)
	assert.Equal(t, Result{
		Type:       ResultDocument,
		ID:         "doc_1",
		DocumentID: "doc_1",
		Title:      "<mark>Retention</mark> policy",
		Snippet:    "Logs are kept for 30 days.",
		Status:     "review",
	}, result)

	decision := meili.Hit{
		"id":         json.RawMessage(`"dec_1"`),
		"documentId": json.RawMessage(`"doc_1"`),
		"reviewerId": json.RawMessage(`"bob"`),
		"outcome":    json.RawMessage(`"rejected"`),
		"reason":     json.RawMessage(`"missing owner"`),
	}
	result, err = resultFromHit(decision, ResultDecision)
	require.NoError(t, err)
	assert.Equal(t, "doc_1", result.DocumentID)
	assert.Equal(t, "bob", result.Title)
	assert.Equal(t, "missing owner", result.Snippet)
	assert.Equal(t, "rejected", result.Status)
}

func TestResultTypeOf(t *testing.T) {
	assert.Equal(t, ResultDocument, resultTypeOf("approvals_documents"))
	assert.Equal(t, ResultDecision, resultTypeOf("approvals_decisions"))
	assert.Equal(t, ResultType(""), resultTypeOf("unknown"))
}
