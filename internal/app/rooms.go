package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/neomorfeo/pgkeeper/internal/domain"
)

// CreateRoom provisions a room with beds vacant beds.
func (s *TenantService) CreateRoom(ctx context.Context, name string, beds int) (RoomDetails, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return RoomDetails{}, &domain.ValidationError{Field: "name", Reason: "required"}
	}
	if beds < 0 {
		return RoomDetails{}, &domain.ValidationError{Field: "beds", Reason: "must not be negative"}
	}

	var out RoomDetails
	err := s.engine.Atomically(ctx, func(store domain.Store) error {
		room, err := store.CreateRoom(ctx, domain.Room{Name: name, Status: domain.RoomAvailable})
		if err != nil {
			return err
		}

		out = RoomDetails{Room: room, Beds: make([]domain.Bed, 0, beds)}
		for i := range beds {
			bed, err := store.CreateBed(ctx, domain.Bed{
				RoomID: room.ID,
				Label:  fmt.Sprintf("%s-%d", name, i+1),
				Status: domain.BedVacant,
			})
			if err != nil {
				return err
			}
			out.Beds = append(out.Beds, bed)
		}
		return nil
	})
	if err != nil {
		return RoomDetails{}, fmt.Errorf("creating room: %w", err)
	}
	return out, nil
}

// AddBed adds a vacant bed to a room and recomputes the room, so a full room
// becomes AVAILABLE again.
func (s *TenantService) AddBed(ctx context.Context, roomID int64, label string) (domain.Bed, error) {
	var bed domain.Bed
	err := s.engine.Atomically(ctx, func(store domain.Store) error {
		room, err := activeRoom(ctx, store, roomID)
		if err != nil {
			return err
		}
		if err := store.LockRooms(ctx, []int64{room.ID}); err != nil {
			return err
		}

		bedLabel := label
		if bedLabel == "" {
			beds, err := store.ListBeds(ctx, room.ID)
			if err != nil {
				return err
			}
			bedLabel = fmt.Sprintf("%s-%d", room.Name, len(beds)+1)
		}

		bed, err = store.CreateBed(ctx, domain.Bed{RoomID: room.ID, Label: bedLabel, Status: domain.BedVacant})
		if err != nil {
			return err
		}

		_, err = s.engine.Refresh(ctx, store, room.ID)
		return err
	})
	if err != nil {
		return domain.Bed{}, fmt.Errorf("adding bed to room %d: %w", roomID, err)
	}
	return bed, nil
}

// GetRoom returns a non-deleted room with its beds.
func (s *TenantService) GetRoom(ctx context.Context, id int64) (RoomDetails, error) {
	var out RoomDetails
	err := s.engine.Atomically(ctx, func(store domain.Store) error {
		room, err := activeRoom(ctx, store, id)
		if err != nil {
			return err
		}
		beds, err := store.ListBeds(ctx, id)
		if err != nil {
			return err
		}
		out = RoomDetails{Room: room, Beds: beds}
		return nil
	})
	return out, err
}

// SetMaintenance puts a room into MAINTENANCE or takes it out. Automatic
// recomputation never leaves MAINTENANCE on its own; turning it off
// recomputes the room from its beds.
func (s *TenantService) SetMaintenance(ctx context.Context, id int64, on bool) (RoomDetails, error) {
	var out RoomDetails
	err := s.engine.Atomically(ctx, func(store domain.Store) error {
		room, err := activeRoom(ctx, store, id)
		if err != nil {
			return err
		}
		if err := store.LockRooms(ctx, []int64{id}); err != nil {
			return err
		}

		switch {
		case on && room.Status != domain.RoomMaintenance:
			if err := store.SetRoomStatus(ctx, id, domain.RoomMaintenance); err != nil {
				return err
			}
		case !on && room.Status == domain.RoomMaintenance:
			// Clear the override first so Refresh computes a derived status.
			if err := store.SetRoomStatus(ctx, id, domain.RoomAvailable); err != nil {
				return err
			}
			if _, err := s.engine.Refresh(ctx, store, id); err != nil {
				return err
			}
		}

		if out.Room, err = store.GetRoom(ctx, id); err != nil {
			return err
		}
		out.Beds, err = store.ListBeds(ctx, id)
		return err
	})
	if err != nil {
		return RoomDetails{}, fmt.Errorf("setting maintenance on room %d: %w", id, err)
	}
	return out, nil
}

// ReconcileRoom recomputes every bed in a room and the room itself.
func (s *TenantService) ReconcileRoom(ctx context.Context, id int64) (domain.Reconciliation, error) {
	return s.engine.ReconcileRoom(ctx, id)
}

// ReconcileAll recomputes every room, one transaction per room.
func (s *TenantService) ReconcileAll(ctx context.Context) (domain.Reconciliation, error) {
	return s.engine.ReconcileAll(ctx)
}

func activeRoom(ctx context.Context, store domain.Store, id int64) (domain.Room, error) {
	room, err := store.GetRoom(ctx, id)
	if err != nil {
		return domain.Room{}, err
	}
	if room.IsDeleted {
		return domain.Room{}, domain.RoomNotFound(id)
	}
	return room, nil
}
