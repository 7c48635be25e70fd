package domain

import "time"

// TenantStatus is the residency state of a tenant.
type TenantStatus string

const (
	TenantActive   TenantStatus = "ACTIVE"
	TenantInactive TenantStatus = "INACTIVE"

	// TenantStatusRemoved is never persisted. It names the state of a soft-deleted
	// tenant for transition validation.
	TenantStatusRemoved TenantStatus = "REMOVED"
)

// Valid reports whether s may be stored on a tenant row.
func (s TenantStatus) Valid() bool {
	return s == TenantActive || s == TenantInactive
}

// Event represents an action that changes a tenant's status.
type Event string

const (
	EventActivate   Event = "activate"
	EventDeactivate Event = "deactivate"
	EventRemove     Event = "remove"
)

// Transition defines a valid status change: an event moves a tenant from Src to Dst.
type Transition struct {
	Event Event
	Src   TenantStatus
	Dst   TenantStatus
}

// Transitions defines all valid status changes in the tenant lifecycle.
// This is domain knowledge consumed by the FSM adapter.
var Transitions = []Transition{
	{Event: EventDeactivate, Src: TenantActive, Dst: TenantInactive},
	{Event: EventActivate, Src: TenantInactive, Dst: TenantActive},
	{Event: EventRemove, Src: TenantActive, Dst: TenantStatusRemoved},
	{Event: EventRemove, Src: TenantInactive, Dst: TenantStatusRemoved},
}

// EventFor returns the event that moves a tenant from one persisted status to
// another. ok is false when the statuses are equal.
func EventFor(from, to TenantStatus) (event Event, ok bool) {
	switch {
	case from == to:
		return "", false
	case to == TenantActive:
		return EventActivate, true
	case to == TenantInactive:
		return EventDeactivate, true
	case to == TenantStatusRemoved:
		return EventRemove, true
	default:
		return "", false
	}
}

// Association describes which bed and room a tenant occupies.
type Association struct {
	BedID  int64
	RoomID int64
}

// Tenant is a resident currently or formerly assigned to a bed.
type Tenant struct {
	ID         int64
	ExternalID string
	BedID      int64
	RoomID     int64
	Status     TenantStatus
	IsDeleted  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Association returns the tenant's current bed and room.
func (t Tenant) Association() Association {
	return Association{BedID: t.BedID, RoomID: t.RoomID}
}

// Occupies reports whether the tenant counts toward its bed's occupancy.
func (t Tenant) Occupies() bool {
	return !t.IsDeleted && t.Status == TenantActive
}

// NewTenant creates an unsaved tenant assigned to the given bed and room.
func NewTenant(externalID string, a Association, status TenantStatus) Tenant {
	now := time.Now().UTC()
	return Tenant{
		ExternalID: externalID,
		BedID:      a.BedID,
		RoomID:     a.RoomID,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
