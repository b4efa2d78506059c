package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports caller input rejected before any mutation occurred.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

// NotFoundError is returned when a lookup or command names an unknown id.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var n NotFoundError
	return errors.As(err, &n)
}

// InvalidTransitionError reports an operation attempted against an entity
// that is not in the required source state. Status carries the entity's
// actual current state so callers can report it.
type InvalidTransitionError struct {
	Entity    EntityType
	ID        string
	Status    string
	Operation string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s: status is %s", e.Operation, e.Entity, e.ID, e.Status)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var t InvalidTransitionError
	return errors.As(err, &t)
}

// ChainIntegrityError reports a broken hash link in the ledger. It indicates
// a transition-engine defect or external tampering with stored ledger data;
// the core never attempts to repair it.
type ChainIntegrityError struct {
	Seq    uint64
	Reason string
}

func (e ChainIntegrityError) Error() string {
	return fmt.Sprintf("ledger chain broken at seq %d: %s", e.Seq, e.Reason)
}

// IsChainIntegrity reports whether err is a ChainIntegrityError.
func IsChainIntegrity(err error) bool {
	var c ChainIntegrityError
	return errors.As(err, &c)
}
