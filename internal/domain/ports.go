package domain

import "context"

// Store is the transaction-scoped persistence contract. A Store value is only
// valid inside the Transactor.WithTx callback that produced it.
type Store interface {
	// GetTenant returns a non-deleted tenant. Implementations that support
	// row locks lock the tenant row for the rest of the transaction.
	GetTenant(ctx context.Context, id int64) (Tenant, error)
	CreateTenant(ctx context.Context, tenant Tenant) (Tenant, error)
	UpdateTenant(ctx context.Context, tenant Tenant) error
	SoftDeleteTenant(ctx context.Context, id int64) error
	// ActiveTenantIDs returns the ids of non-deleted ACTIVE tenants on a bed.
	ActiveTenantIDs(ctx context.Context, bedID int64) ([]int64, error)

	GetBed(ctx context.Context, id int64) (Bed, error)
	ListBeds(ctx context.Context, roomID int64) ([]Bed, error)
	CreateBed(ctx context.Context, bed Bed) (Bed, error)
	SetBedStatus(ctx context.Context, id int64, status BedStatus) error

	GetRoom(ctx context.Context, id int64) (Room, error)
	ListRoomIDs(ctx context.Context) ([]int64, error)
	CreateRoom(ctx context.Context, room Room) (Room, error)
	SetRoomStatus(ctx context.Context, id int64, status RoomStatus) error

	// LockRooms and LockBeds take row locks held until the transaction ends.
	// ids are passed in ascending order.
	LockRooms(ctx context.Context, ids []int64) error
	LockBeds(ctx context.Context, ids []int64) error
}

// Transactor runs fn inside one atomic transaction. The transaction commits
// if fn returns nil and rolls back otherwise.
type Transactor interface {
	WithTx(ctx context.Context, fn func(Store) error) error
}

// EventPublisher defines the contract for emitting committed occupancy changes.
type EventPublisher interface {
	Publish(ctx context.Context, change OccupancyChange) error
}

// TransitionValidator checks whether an event is valid from the given status
// and returns the resulting status.
type TransitionValidator interface {
	Apply(ctx context.Context, current TenantStatus, event Event) (TenantStatus, error)
}
