package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
)

func (h *harness) delegate(documentID, delegator, substitute string, expiresAt, now time.Time) (store.Delegation, error) {
	return h.engine.CreateDelegation(context.Background(), DelegateInput{
		DocumentID:   documentID,
		DelegatorID:  delegator,
		SubstituteID: substitute,
		ExpiresAt:    expiresAt,
		Now:          now,
	})
}

func (h *harness) decideFor(documentID, actingID, onBehalfOf string, at time.Time) (DecisionResult, error) {
	return h.engine.Decide(context.Background(), DecideInput{
		DocumentID: documentID,
		ActingID:   actingID,
		OnBehalfOf: onBehalfOf,
		Outcome:    store.OutcomeApproved,
		Now:        at,
	})
}

func TestCreateDelegationPreconditions(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, h *harness, docID string)
		delegator  string
		substitute string
		expiresAt  time.Time
		target     error
	}{
		{name: "expiry now", delegator: "r1", substitute: "s1", expiresAt: t0, target: ErrExpiryNotFuture},
		{name: "expiry past", delegator: "r1", substitute: "s1", expiresAt: t0.Add(-time.Second), target: ErrExpiryNotFuture},
		{name: "self delegation", delegator: "r1", substitute: "r1", expiresAt: t0.Add(time.Hour), target: ErrSelfDelegationForbidden},
		{name: "author as substitute", delegator: "r1", substitute: "author", expiresAt: t0.Add(time.Hour), target: ErrSelfApprovalForbidden},
		{name: "delegator not assigned", delegator: "stranger", substitute: "s1", expiresAt: t0.Add(time.Hour), target: ErrReviewerNotAssigned},
		{
			name: "substitute cannot delegate further",
			setup: func(t *testing.T, h *harness, docID string) {
				_, err := h.delegate(docID, "r1", "r2", t0.Add(time.Hour), t0)
				require.NoError(t, err)
			},
			delegator:  "r2",
			substitute: "s1",
			expiresAt:  t0.Add(time.Hour),
			target:     ErrChainForbidden,
		},
		{
			name: "unassigned substitute cannot delegate further",
			setup: func(t *testing.T, h *harness, docID string) {
				_, err := h.delegate(docID, "r1", "sub1", t0.Add(time.Hour), t0)
				require.NoError(t, err)
			},
			delegator:  "sub1",
			substitute: "sub2",
			expiresAt:  t0.Add(time.Hour),
			target:     ErrChainForbidden,
		},
		{
			name: "active delegation exists",
			setup: func(t *testing.T, h *harness, docID string) {
				_, err := h.delegate(docID, "r1", "s1", t0.Add(time.Hour), t0)
				require.NoError(t, err)
			},
			delegator:  "r1",
			substitute: "s2",
			expiresAt:  t0.Add(time.Hour),
			target:     ErrDelegationExists,
		},
		{
			name: "delegator already decided",
			setup: func(t *testing.T, h *harness, docID string) {
				_, err := h.decide(docID, "r1", store.OutcomeApproved, t0)
				require.NoError(t, err)
			},
			delegator:  "r1",
			substitute: "s1",
			expiresAt:  t0.Add(time.Hour),
			target:     ErrDecisionExists,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			docID := h.createDocument(t, "author")
			h.submit(t, docID, "author", "r1", "r2")
			if tc.setup != nil {
				tc.setup(t, h, docID)
			}
			before := h.graph(t, docID)

			_, err := h.delegate(docID, tc.delegator, tc.substitute, tc.expiresAt, t0)
			require.ErrorIs(t, err, tc.target)
			assert.Equal(t, before, h.graph(t, docID))
		})
	}
}

func TestCreateDelegationOutsideReview(t *testing.T) {
	h := newHarness(t)
	docID := h.createDocument(t, "author")

	_, err := h.delegate(docID, "r1", "s1", t0.Add(time.Hour), t0)
	require.ErrorIs(t, err, ErrDocumentNotUnderReview)
}

func TestCreateDelegationNotifiesSubstitute(t *testing.T) {
	h := newHarness(t)
	docID := h.createDocument(t, "author")
	h.submit(t, docID, "author", "r1")

	delegation, err := h.delegate(docID, "r1", "s1", t0.Add(time.Hour), t0)
	require.NoError(t, err)
	assert.Equal(t, "r1", delegation.DelegatorID)
	assert.Equal(t, "s1", delegation.SubstituteID)
	assert.Nil(t, delegation.RevokedAt)
	assert.Equal(t, []string{"r1", "s1"}, h.notifier.recipients())
}

func TestExpiredDelegationCanBeReplaced(t *testing.T) {
	h := newHarness(t)
	docID := h.createDocument(t, "author")
	h.submit(t, docID, "author", "r1")

	_, err := h.delegate(docID, "r1", "s1", t0.Add(time.Hour), t0)
	require.NoError(t, err)
	_, err = h.delegate(docID, "r1", "s2", t0.Add(3*time.Hour), t0.Add(2*time.Hour))
	require.NoError(t, err)
}

func TestResolveDelegationFailures(t *testing.T) {
	h := newHarness(t)
	docID := h.createDocument(t, "author")
	h.submit(t, docID, "author", "r1", "r2")

	_, err := h.decideFor(docID, "s1", "r1", t0)
	require.ErrorIs(t, err, ErrDelegationMissing)

	delegation, err := h.delegate(docID, "r1", "s1", t0.Add(time.Hour), t0)
	require.NoError(t, err)

	_, err = h.decideFor(docID, "s2", "r1", t0)
	require.ErrorIs(t, err, ErrDelegationMissing)

	_, err = h.decideFor(docID, "s1", "r1", t0.Add(time.Hour))
	require.ErrorIs(t, err, ErrDelegationExpired)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, t0.Add(time.Hour), domainErr.Details["expires_at"])

	_, err = h.engine.RevokeDelegation(context.Background(), RevokeInput{
		DocumentID:   docID,
		DelegationID: delegation.ID,
		RequesterID:  "r1",
		Now:          t0.Add(time.Minute),
	})
	require.NoError(t, err)

	_, err = h.decideFor(docID, "s1", "r1", t0.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrDelegationInactive)

	assert.Empty(t, h.graph(t, docID).Decisions)

	// The delegator can still decide directly.
	result, err := h.decide(docID, "r1", store.OutcomeApproved, t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "r1", result.Decision.ActedBy)
}

func TestResolveThroughSubstituteIsChainForbidden(t *testing.T) {
	h := newHarness(t)
	docID := h.createDocument(t, "author")
	h.submit(t, docID, "author", "r1", "r2")

	_, err := h.delegate(docID, "r2", "c1", t0.Add(time.Hour), t0)
	require.NoError(t, err)
	_, err = h.delegate(docID, "r1", "r2", t0.Add(time.Hour), t0)
	require.NoError(t, err)

	_, err = h.decideFor(docID, "c1", "r2", t0.Add(time.Minute))
	require.ErrorIs(t, err, ErrChainForbidden)

	// r2 acting for r1 is a single hop and allowed.
	result, err := h.decideFor(docID, "r2", "r1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "r1", result.Decision.ReviewerID)
	assert.Equal(t, "r2", result.Decision.ActedBy)
}

func TestRevokeDelegation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	docID := h.createDocument(t, "author")
	h.submit(t, docID, "author", "r1", "r2")
	delegation, err := h.delegate(docID, "r1", "s1", t0.Add(time.Hour), t0)
	require.NoError(t, err)

	revoke := func(id, requester string) (store.Delegation, error) {
		return h.engine.RevokeDelegation(ctx, RevokeInput{DocumentID: docID, DelegationID: id, RequesterID: requester, Now: t0.Add(time.Minute)})
	}

	_, err = revoke("dlg_missing", "r1")
	require.ErrorIs(t, err, ErrDelegationNotFound)

	_, err = revoke(delegation.ID, "s1")
	require.ErrorIs(t, err, ErrRevokeForbidden)
	assert.Equal(t, KindForbidden, mustKind(t, err))

	revoked, err := revoke(delegation.ID, "r1")
	require.NoError(t, err)
	require.NotNil(t, revoked.RevokedAt)
	assert.Equal(t, t0.Add(time.Minute), *revoked.RevokedAt)

	_, err = revoke(delegation.ID, "r1")
	require.ErrorIs(t, err, ErrAlreadyRevoked)
	assert.Equal(t, KindConflict, mustKind(t, err))

	// A fresh delegation is allowed once the old one is revoked.
	_, err = h.delegate(docID, "r1", "s2", t0.Add(time.Hour), t0.Add(2*time.Minute))
	require.NoError(t, err)
}

func TestDelegationsDoNotCarryIntoNextCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	docID := h.createDocument(t, "author")
	h.submit(t, docID, "author", "r1", "r2")
	delegation, err := h.delegate(docID, "r1", "s1", t0.Add(24*time.Hour), t0)
	require.NoError(t, err)

	_, err = h.decide(docID, "r2", store.OutcomeRejected, t0.Add(time.Minute))
	require.NoError(t, err)

	_, err = h.engine.RevokeDelegation(ctx, RevokeInput{DocumentID: docID, DelegationID: delegation.ID, RequesterID: "r1", Now: t0.Add(2 * time.Minute)})
	require.ErrorIs(t, err, ErrDocumentNotUnderReview)

	h.submit(t, docID, "author", "r1", "r2")

	_, err = h.engine.RevokeDelegation(ctx, RevokeInput{DocumentID: docID, DelegationID: delegation.ID, RequesterID: "r1", Now: t0.Add(3 * time.Minute)})
	require.ErrorIs(t, err, ErrDelegationNotFound)

	_, err = h.decideFor(docID, "s1", "r1", t0.Add(4*time.Minute))
	require.ErrorIs(t, err, ErrDelegationMissing)
}
