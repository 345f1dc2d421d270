package workflow

import (
	"time"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
)

func createDelegation(g *store.Graph, cycle *store.ReviewCycle, delegatorID, substituteID string, expiresAt, now time.Time, newID func(string) string) (*store.Delegation, error) {
	if !expiresAt.After(now) {
		return nil, withDetails(ErrExpiryNotFuture, map[string]any{
			"expires_at": expiresAt,
			"now":        now,
		})
	}
	if delegatorID == substituteID {
		return nil, ErrSelfDelegationForbidden
	}
	if substituteID == g.Document.AuthorID {
		return nil, withMessage(ErrSelfApprovalForbidden, "author %s cannot act as a substitute", substituteID)
	}
	// A substitute is refused as chain_forbidden whether or not it is assigned.
	if activeSubstitute(g, cycle, delegatorID, now) != nil {
		return nil, withDetails(ErrChainForbidden, map[string]any{"delegator_id": delegatorID})
	}
	if !isAssigned(g, cycle, delegatorID) {
		return nil, withDetails(ErrReviewerNotAssigned, map[string]any{"reviewer_id": delegatorID})
	}
	if existing := activeDelegationFrom(g, cycle, delegatorID, now); existing != nil {
		return nil, withDetails(ErrDelegationExists, map[string]any{"delegation_id": existing.ID})
	}
	if g.Decision(cycle.ID, delegatorID) != nil {
		return nil, withDetails(ErrDecisionExists, map[string]any{"reviewer_id": delegatorID})
	}

	delegation := g.AddDelegation(store.Delegation{
		ID:           newID("dlg"),
		CycleID:      cycle.ID,
		DelegatorID:  delegatorID,
		SubstituteID: substituteID,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
	})
	notify(g, newID, substituteID, now, "%s delegated review of %q to you until %s",
		delegatorID, g.Document.Title, expiresAt.UTC().Format(time.RFC3339))
	return delegation, nil
}

// resolveReviewer maps the acting identity to the reviewer the action counts
// against. With no onBehalfOf the actor acts for themselves.
func resolveReviewer(g *store.Graph, cycle *store.ReviewCycle, actingID, onBehalfOf string, now time.Time) (string, *store.Delegation, error) {
	if onBehalfOf == "" || onBehalfOf == actingID {
		return actingID, nil, nil
	}

	var found *store.Delegation
	for _, delegation := range g.DelegationsFor(cycle.ID) {
		if delegation.DelegatorID != onBehalfOf || delegation.SubstituteID != actingID {
			continue
		}
		found = delegation
		if delegation.ActiveAt(now) {
			break
		}
	}
	details := map[string]any{"acting_id": actingID, "on_behalf_of": onBehalfOf}
	switch {
	case found == nil:
		return "", nil, withDetails(ErrDelegationMissing, details)
	case found.RevokedAt != nil:
		details["revoked_at"] = *found.RevokedAt
		return "", nil, withDetails(ErrDelegationInactive, details)
	case !found.ExpiresAt.After(now):
		details["expires_at"] = found.ExpiresAt
		return "", nil, withDetails(ErrDelegationExpired, details)
	}
	if activeSubstitute(g, cycle, onBehalfOf, now) != nil {
		return "", nil, withDetails(ErrChainForbidden, details)
	}
	return onBehalfOf, found, nil
}

func revokeDelegation(g *store.Graph, cycle *store.ReviewCycle, delegationID, requesterID string, now time.Time) (*store.Delegation, error) {
	delegation := g.Delegation(delegationID)
	if delegation == nil || delegation.CycleID != cycle.ID {
		return nil, withDetails(ErrDelegationNotFound, map[string]any{"delegation_id": delegationID})
	}
	if requesterID != delegation.DelegatorID {
		return nil, withDetails(ErrRevokeForbidden, map[string]any{"requester_id": requesterID})
	}
	if delegation.RevokedAt != nil {
		return nil, withDetails(ErrAlreadyRevoked, map[string]any{"revoked_at": *delegation.RevokedAt})
	}
	revokedAt := now
	delegation.RevokedAt = &revokedAt
	return delegation, nil
}

// activeSubstitute returns a live delegation in which identity is the substitute.
func activeSubstitute(g *store.Graph, cycle *store.ReviewCycle, identity string, now time.Time) *store.Delegation {
	for _, delegation := range g.DelegationsFor(cycle.ID) {
		if delegation.SubstituteID == identity && delegation.ActiveAt(now) {
			return delegation
		}
	}
	return nil
}

func activeDelegationFrom(g *store.Graph, cycle *store.ReviewCycle, delegatorID string, now time.Time) *store.Delegation {
	for _, delegation := range g.DelegationsFor(cycle.ID) {
		if delegation.DelegatorID == delegatorID && delegation.ActiveAt(now) {
			return delegation
		}
	}
	return nil
}

func isAssigned(g *store.Graph, cycle *store.ReviewCycle, reviewerID string) bool {
	assignment := g.Assignment(cycle.ID, reviewerID)
	return assignment != nil && assignment.Active
}
