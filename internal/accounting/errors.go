package accounting

import "errors"

// Kind groups ledger errors by how callers are expected to react.
type Kind string

const (
	// KindValidation marks input rejected before any write.
	KindValidation Kind = "validation"
	// KindNotFound marks a reference that does not resolve.
	KindNotFound Kind = "not_found"
	// KindIntegrity marks a request inconsistent with current ledger state.
	KindIntegrity Kind = "integrity"
	// KindConcurrency marks a conflict that survived internal retries.
	KindConcurrency Kind = "concurrency"
	// KindInternal covers storage and infrastructure failures.
	KindInternal Kind = "internal"
)

// Error is a classified ledger error. Instances are sentinels compared with errors.Is.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

var (
	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = newError(KindValidation, "InvalidInput", "accounting: invalid input")
	// ErrDuplicateCode indicates the account code already exists.
	ErrDuplicateCode = newError(KindValidation, "DuplicateCode", "accounting: account code already exists")
	// ErrInvalidParent indicates the parent account does not resolve or cannot hold children.
	ErrInvalidParent = newError(KindValidation, "InvalidParent", "accounting: invalid parent account")
	// ErrTypePositionMismatch indicates the normal position contradicts the account type.
	ErrTypePositionMismatch = newError(KindValidation, "TypePositionMismatch", "accounting: position inconsistent with account type")
	// ErrNonPositiveAmount indicates a zero or negative line amount.
	ErrNonPositiveAmount = newError(KindValidation, "NonPositiveAmount", "accounting: amount must be positive")
	// ErrInvalidAmountScale indicates more precision than the currency minor unit.
	ErrInvalidAmountScale = newError(KindValidation, "InvalidAmountScale", "accounting: amount exceeds minor unit precision")
	// ErrAccountNotPostable indicates a header, inactive or deleted account on a posting line.
	ErrAccountNotPostable = newError(KindValidation, "AccountNotPostable", "accounting: account is not postable")
	// ErrUnbalancedPosting indicates debit != credit.
	ErrUnbalancedPosting = newError(KindValidation, "UnbalancedPosting", "accounting: posting debits and credits must balance")
	// ErrEmptyPosting indicates less than two lines.
	ErrEmptyPosting = newError(KindValidation, "EmptyPosting", "accounting: posting requires at least two lines")

	// ErrAccountNotFound indicates the account code or id does not resolve.
	ErrAccountNotFound = newError(KindNotFound, "NotFound", "accounting: account not found")
	// ErrPostingNotFound indicates a missing or voided posting.
	ErrPostingNotFound = newError(KindNotFound, "PostingNotFound", "accounting: posting not found")
	// ErrPeriodNotFound indicates no ledger row for the requested bounds.
	ErrPeriodNotFound = newError(KindNotFound, "PeriodNotFound", "accounting: period not found")
	// ErrMappingNotFound indicates an integration key without an account mapping.
	ErrMappingNotFound = newError(KindNotFound, "MappingNotFound", "accounting: account mapping not found")

	// ErrCycleDetected indicates the parent graph revisits a node.
	ErrCycleDetected = newError(KindIntegrity, "CycleDetected", "accounting: account hierarchy cycle detected")
	// ErrHasActiveChildren indicates a header account still has live children.
	ErrHasActiveChildren = newError(KindIntegrity, "HasActiveChildren", "accounting: account has active children")
	// ErrOverlappingPeriod indicates the requested range intersects an existing period.
	ErrOverlappingPeriod = newError(KindIntegrity, "OverlappingPeriod", "accounting: period overlaps existing range")
	// ErrPriorPeriodOpen indicates the contiguous predecessor is not closed.
	ErrPriorPeriodOpen = newError(KindIntegrity, "PriorPeriodOpen", "accounting: prior period not closed")
	// ErrLaterPeriodClosed indicates a later period is still closed.
	ErrLaterPeriodClosed = newError(KindIntegrity, "LaterPeriodClosed", "accounting: later period already closed")
	// ErrPeriodClosed indicates a write into a closed period.
	ErrPeriodClosed = newError(KindIntegrity, "PeriodClosed", "accounting: period closed")
	// ErrInvalidPeriodTransition indicates the period status change is not allowed.
	ErrInvalidPeriodTransition = newError(KindIntegrity, "InvalidPeriodTransition", "accounting: invalid period transition")
	// ErrSourceAlreadyLinked indicates the source reference already produced a posting.
	ErrSourceAlreadyLinked = newError(KindIntegrity, "SourceAlreadyLinked", "accounting: source already linked")

	// ErrConcurrentModification indicates retries were exhausted.
	ErrConcurrentModification = newError(KindConcurrency, "ConcurrentModification", "accounting: concurrent modification")
	// ErrSerializationFailure is the retryable storage conflict. It never leaves the engine.
	ErrSerializationFailure = newError(KindConcurrency, "SerializationFailure", "accounting: serialization failure")
)

// KindOf reports the classification of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the ledger error code carried by err, or "" when unclassified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
