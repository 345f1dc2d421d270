package workflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorMatchesByCode(t *testing.T) {
	detailed := withDetails(ErrEscalationNotDue, map[string]any{"next_escalation_at": t0})
	wrapped := fmt.Errorf("trigger: %w", detailed)

	assert.ErrorIs(t, wrapped, ErrEscalationNotDue)
	assert.NotErrorIs(t, wrapped, ErrEscalationMaxDepth)
	assert.Equal(t, "escalation_not_due", CodeOf(wrapped))
	assert.Equal(t, "escalation_not_due: escalation is not due yet", detailed.Error())

	kind, ok := KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindConflict, kind)
}

func TestNonDomainErrors(t *testing.T) {
	err := errors.New("connection reset")
	_, ok := KindOf(err)
	assert.False(t, ok)
	assert.Empty(t, CodeOf(err))
	assert.NotErrorIs(t, err, ErrDocumentNotFound)

	var nilErr *DomainError
	assert.Empty(t, nilErr.Error())
}

func TestErrorCodesAreDistinct(t *testing.T) {
	sentinels := []*DomainError{
		ErrDocumentNotFound, ErrDelegationNotFound, ErrInvalidTransition, ErrDocumentLocked,
		ErrUnderReview, ErrDocumentNotUnderReview, ErrEscalationNotApplicable, ErrNotAuthor,
		ErrReviewerNotAssigned, ErrSelfApprovalForbidden, ErrSelfEscalationForbidden, ErrChainForbidden,
		ErrDelegationMissing, ErrDelegationInactive, ErrDelegationExpired, ErrRevokeForbidden,
		ErrDecisionExists, ErrDelegationExists, ErrAlreadyRevoked, ErrEscalationNotDue,
		ErrEscalationMaxDepth, ErrDocumentExists, ErrValidation, ErrReviewersRequired,
		ErrExpiryNotFuture, ErrSelfDelegationForbidden, ErrInvalidOutcome,
	}
	seen := make(map[string]struct{}, len(sentinels))
	for _, sentinel := range sentinels {
		_, dup := seen[sentinel.Code]
		assert.False(t, dup, "duplicate code %s", sentinel.Code)
		seen[sentinel.Code] = struct{}{}
		assert.NotEmpty(t, sentinel.Kind)
	}
}
