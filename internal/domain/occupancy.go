package domain

// BedStatus is the derived occupancy state of a bed.
type BedStatus string

const (
	BedVacant   BedStatus = "VACANT"
	BedOccupied BedStatus = "OCCUPIED"
)

// RoomStatus is the derived occupancy state of a room. MAINTENANCE is set by
// an administrator and survives automatic recomputation.
type RoomStatus string

const (
	RoomAvailable   RoomStatus = "AVAILABLE"
	RoomOccupied    RoomStatus = "OCCUPIED"
	RoomMaintenance RoomStatus = "MAINTENANCE"
)

// Bed is the smallest assignable occupancy slot. It belongs to exactly one room.
type Bed struct {
	ID        int64
	RoomID    int64
	Label     string
	Status    BedStatus
	IsDeleted bool
}

// Room is a physical unit containing beds.
type Room struct {
	ID        int64
	Name      string
	Status    RoomStatus
	IsDeleted bool
}

// ComputeBedStatus derives a bed's status from the number of non-deleted,
// ACTIVE tenants that reference it.
func ComputeBedStatus(activeTenants int) BedStatus {
	if activeTenants > 0 {
		return BedOccupied
	}
	return BedVacant
}

// ComputeRoomStatus derives a room's status from its non-deleted beds.
// A room with no beds is never OCCUPIED.
func ComputeRoomStatus(totalBeds, occupiedBeds int, current RoomStatus) RoomStatus {
	if current == RoomMaintenance {
		return RoomMaintenance
	}
	if totalBeds > 0 && totalBeds == occupiedBeds {
		return RoomOccupied
	}
	return RoomAvailable
}

// BedChange records one bed reconciliation.
type BedChange struct {
	BedID int64
	From  BedStatus
	To    BedStatus
}

// RoomChange records one room reconciliation.
type RoomChange struct {
	RoomID int64
	From   RoomStatus
	To     RoomStatus
}

// Reconciliation lists every bed and room recomputed by one lifecycle event,
// in the order they were written.
type Reconciliation struct {
	Beds  []BedChange
	Rooms []RoomChange
}

// Changed reports whether any status actually changed.
func (r Reconciliation) Changed() bool {
	for _, b := range r.Beds {
		if b.From != b.To {
			return true
		}
	}
	for _, rm := range r.Rooms {
		if rm.From != rm.To {
			return true
		}
	}
	return false
}

// Merge appends other's changes to r.
func (r Reconciliation) Merge(other Reconciliation) Reconciliation {
	r.Beds = append(r.Beds, other.Beds...)
	r.Rooms = append(r.Rooms, other.Rooms...)
	return r
}
