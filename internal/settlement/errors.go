package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid expense: " + e.Reason
	}
	return fmt.Sprintf("invalid expense: %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a missing group, expense or pending edge. An edge
// that is already resolved is reported as not found as well.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

type PermissionError struct {
	Requester string
	Owner     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("participant %s cannot resolve an edge owed by %s", e.Requester, e.Owner)
}

// StateError is returned when a mutation targets a group that is no longer active.
type StateError struct {
	GroupID string
	Status  string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("group %s is %s", e.GroupID, e.Status)
}

// ConsistencyWarning reports an unmatched residual left by the matcher. It is
// non-fatal: the edges computed alongside it are still valid.
type ConsistencyWarning struct {
	Credits  decimal.Decimal
	Debits   decimal.Decimal
	Residual decimal.Decimal
	// Unmatched lists the participants left with a remainder above Epsilon.
	Unmatched map[string]decimal.Decimal
}

func (w *ConsistencyWarning) Error() string {
	return fmt.Sprintf("unbalanced ledger: credits %s, debits %s, residual %s",
		w.Credits.StringFixed(2), w.Debits.StringFixed(2), w.Residual.StringFixed(2))
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsPermission(err error) bool {
	var target *PermissionError
	return errors.As(err, &target)
}

func IsState(err error) bool {
	var target *StateError
	return errors.As(err, &target)
}
