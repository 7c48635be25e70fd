package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by the engine matches exactly one of
// these under errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidAssociation  = errors.New("invalid association")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrPersistence         = errors.New("persistence failure")

	// ErrValidation marks input rejected by the service or the tenant state
	// machine.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyExists marks a write that collides with a unique key.
	ErrAlreadyExists = errors.New("already exists")
)

// NotFoundError is returned when a tenant, bed or room does not exist or is
// soft-deleted where an active row was required.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidAssociationError is returned when a bed/room pair is inconsistent.
type InvalidAssociationError struct {
	BedID  int64
	RoomID int64
	Reason string
}

func (e *InvalidAssociationError) Error() string {
	return fmt.Sprintf("bed %d in room %d: %s", e.BedID, e.RoomID, e.Reason)
}

func (e *InvalidAssociationError) Is(target error) bool { return target == ErrInvalidAssociation }

// BedOccupiedError is returned when an ACTIVE tenant is assigned to a bed
// another ACTIVE tenant already occupies.
type BedOccupiedError struct {
	BedID    int64
	TenantID int64
}

func (e *BedOccupiedError) Error() string {
	return fmt.Sprintf("bed %d is already occupied by tenant %d", e.BedID, e.TenantID)
}

func (e *BedOccupiedError) Is(target error) bool { return target == ErrInvalidAssociation }

// PersistenceError wraps an underlying store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConflictError wraps a driver error that signals a write conflict or lock
// failure. The whole lifecycle event may be retried.
type ConflictError struct {
	Op  string
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: write conflict: %v", e.Op, e.Err)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

func (e *ConflictError) Unwrap() error { return e.Err }

// ValidationError is returned when a request field is missing or malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ExternalIDConflictError is returned when a tenant is created with an
// external tenant id that is already taken.
type ExternalIDConflictError struct {
	ExternalID string
}

func (e *ExternalIDConflictError) Error() string {
	return fmt.Sprintf("external tenant id %q is already in use", e.ExternalID)
}

func (e *ExternalIDConflictError) Is(target error) bool { return target == ErrAlreadyExists }

// TransitionError is returned when a status change is not allowed. Allowed
// lists the events the current state does accept, if known.
type TransitionError struct {
	Event   Event
	Current TenantStatus
	Allowed []Event
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
	if len(e.Allowed) == 0 {
		return msg
	}
	allowed := make([]string, len(e.Allowed))
	for i, ev := range e.Allowed {
		allowed[i] = string(ev)
	}
	return msg + " (allowed: " + strings.Join(allowed, ", ") + ")"
}

func (e *TransitionError) Is(target error) bool { return target == ErrValidation }

// TenantNotFound is shorthand for a NotFoundError on a tenant.
func TenantNotFound(id int64) error { return &NotFoundError{Entity: "tenant", ID: id} }

// BedNotFound is shorthand for a NotFoundError on a bed.
func BedNotFound(id int64) error { return &NotFoundError{Entity: "bed", ID: id} }

// RoomNotFound is shorthand for a NotFoundError on a room.
func RoomNotFound(id int64) error { return &NotFoundError{Entity: "room", ID: id} }
