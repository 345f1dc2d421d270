package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
)

var allStatuses = []store.DocumentStatus{store.StatusDraft, store.StatusReview, store.StatusApproved, store.StatusRejected}

func TestTransitionTable(t *testing.T) {
	legal := map[[2]store.DocumentStatus]bool{
		{store.StatusDraft, store.StatusReview}:    true,
		{store.StatusRejected, store.StatusReview}: true,
		{store.StatusReview, store.StatusApproved}: true,
		{store.StatusReview, store.StatusRejected}: true,
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			assert.Equal(t, legal[[2]store.DocumentStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestApprovedIsTerminal(t *testing.T) {
	for _, to := range allStatuses {
		assert.False(t, CanTransition(store.StatusApproved, to))
	}
	doc := store.Document{Status: store.StatusApproved}
	err := transition(&doc, store.StatusReview, t0)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, store.StatusApproved, doc.Status)
}

func TestCheckOperationCodes(t *testing.T) {
	tests := []struct {
		op     Operation
		status store.DocumentStatus
		target error
	}{
		{OpUpdate, store.StatusDraft, nil},
		{OpUpdate, store.StatusRejected, nil},
		{OpUpdate, store.StatusReview, ErrUnderReview},
		{OpUpdate, store.StatusApproved, ErrDocumentLocked},
		{OpSubmit, store.StatusDraft, nil},
		{OpSubmit, store.StatusRejected, nil},
		{OpSubmit, store.StatusReview, ErrInvalidTransition},
		{OpSubmit, store.StatusApproved, ErrInvalidTransition},
		{OpDecide, store.StatusReview, nil},
		{OpDecide, store.StatusDraft, ErrDocumentNotUnderReview},
		{OpDelegate, store.StatusApproved, ErrDocumentNotUnderReview},
		{OpRevoke, store.StatusRejected, ErrDocumentNotUnderReview},
		{OpEscalate, store.StatusReview, nil},
		{OpEscalate, store.StatusApproved, ErrEscalationNotApplicable},
		{OpCreate, store.StatusDraft, ErrInvalidTransition},
	}
	for _, tc := range tests {
		t.Run(string(tc.op)+"_"+string(tc.status), func(t *testing.T) {
			err := checkOperation(tc.op, tc.status)
			if tc.target == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.target)
		})
	}
}
