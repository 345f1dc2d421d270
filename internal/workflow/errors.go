package workflow

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindForbidden         Kind = "forbidden"
	KindConflict          Kind = "conflict"
	KindValidationFailed  Kind = "validation_failed"
)

// DomainError is the only error kind the engine produces for a refused
// operation. Two DomainErrors match under errors.Is when their codes match.
type DomainError struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && e != nil && t != nil && t.Code == e.Code
}

func domainError(kind Kind, code, message string, details map[string]any) *DomainError {
	return &DomainError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// withDetails copies a sentinel and attaches diagnostic metadata.
func withDetails(sentinel *DomainError, details map[string]any) *DomainError {
	return domainError(sentinel.Kind, sentinel.Code, sentinel.Message, details)
}

func withMessage(sentinel *DomainError, format string, args ...any) *DomainError {
	return domainError(sentinel.Kind, sentinel.Code, fmt.Sprintf(format, args...), nil)
}

var (
	ErrDocumentNotFound   = domainError(KindNotFound, "document_not_found", "document not found", nil)
	ErrDelegationNotFound = domainError(KindNotFound, "delegation_not_found", "delegation not found in the active cycle", nil)

	ErrInvalidTransition       = domainError(KindInvalidTransition, "invalid_transition", "operation is not allowed in the current status", nil)
	ErrDocumentLocked          = domainError(KindInvalidTransition, "document_locked", "approved documents cannot be edited", nil)
	ErrUnderReview             = domainError(KindInvalidTransition, "under_review", "documents under review cannot be edited", nil)
	ErrDocumentNotUnderReview  = domainError(KindInvalidTransition, "document_not_under_review", "document is not under review", nil)
	ErrEscalationNotApplicable = domainError(KindInvalidTransition, "escalation_not_applicable", "escalation is not configured for the active cycle", nil)

	ErrNotAuthor               = domainError(KindForbidden, "not_author", "only the author may submit the document", nil)
	ErrReviewerNotAssigned     = domainError(KindForbidden, "reviewer_not_assigned", "reviewer is not assigned to the active cycle", nil)
	ErrSelfApprovalForbidden   = domainError(KindForbidden, "self_approval_forbidden", "authors cannot decide on their own document", nil)
	ErrSelfEscalationForbidden = domainError(KindForbidden, "self_escalation_forbidden", "authors cannot be escalated to", nil)
	ErrChainForbidden          = domainError(KindForbidden, "chain_forbidden", "delegated authority cannot be delegated again", nil)
	ErrDelegationMissing       = domainError(KindForbidden, "delegation_missing", "no delegation from the reviewer to the acting identity", nil)
	ErrDelegationInactive      = domainError(KindForbidden, "delegation_inactive", "delegation has been revoked", nil)
	ErrDelegationExpired       = domainError(KindForbidden, "delegation_expired", "delegation has expired", nil)
	ErrRevokeForbidden         = domainError(KindForbidden, "revoke_forbidden", "only the delegator may revoke a delegation", nil)

	ErrDecisionExists     = domainError(KindConflict, "decision_exists", "reviewer already decided in this cycle", nil)
	ErrDelegationExists   = domainError(KindConflict, "delegation_exists", "reviewer already has an active delegation in this cycle", nil)
	ErrAlreadyRevoked     = domainError(KindConflict, "already_revoked", "delegation is already revoked", nil)
	ErrEscalationNotDue   = domainError(KindConflict, "escalation_not_due", "escalation is not due yet", nil)
	ErrEscalationMaxDepth = domainError(KindConflict, "escalation_max_depth", "escalation ladder is exhausted", nil)
	ErrDocumentExists     = domainError(KindConflict, "document_exists", "document already exists", nil)

	ErrValidation              = domainError(KindValidationFailed, "validation_failed", "input failed validation", nil)
	ErrReviewersRequired       = domainError(KindValidationFailed, "reviewers_required", "at least one reviewer is required", nil)
	ErrExpiryNotFuture         = domainError(KindValidationFailed, "expiry_not_future", "delegation expiry must be in the future", nil)
	ErrSelfDelegationForbidden = domainError(KindValidationFailed, "self_delegation_forbidden", "reviewers cannot delegate to themselves", nil)
	ErrInvalidOutcome          = domainError(KindValidationFailed, "invalid_outcome", "outcome must be approved or rejected", nil)
)

// KindOf returns the kind of a domain error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return "", false
	}
	return domainErr.Kind, true
}

// CodeOf returns the machine-readable code of a domain error, or "".
func CodeOf(err error) string {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return ""
	}
	return domainErr.Code
}
