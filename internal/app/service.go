// Package app exposes the tenant lifecycle operations. Each operation writes
// the tenant row and reconciles the affected beds and rooms in one
// transaction, then publishes the committed change.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/neomorfeo/pgkeeper/internal/domain"
	"github.com/neomorfeo/pgkeeper/internal/occupancy"
)

// TenantService orchestrates tenant lifecycle and room inventory operations.
type TenantService struct {
	engine    *occupancy.Engine
	publisher domain.EventPublisher
	validator domain.TransitionValidator
}

// NewTenantService creates a service with the given engine and adapters.
func NewTenantService(engine *occupancy.Engine, publisher domain.EventPublisher, validator domain.TransitionValidator) *TenantService {
	return &TenantService{
		engine:    engine,
		publisher: publisher,
		validator: validator,
	}
}

// CreateTenantInput describes a new tenant. ExternalID is generated when
// empty; Status defaults to ACTIVE.
type CreateTenantInput struct {
	ExternalID string
	BedID      int64
	RoomID     int64
	Status     domain.TenantStatus
}

// UpdateTenantInput lists the fields to change; nil fields keep their
// stored value. Changing only the bed keeps the stored room, so a bed in
// another room must be sent together with its room.
type UpdateTenantInput struct {
	BedID  *int64
	RoomID *int64
	Status *domain.TenantStatus
}

// TenantResult is a tenant after a lifecycle event together with the bed and
// room reconciliations the event committed.
type TenantResult struct {
	Tenant         domain.Tenant
	Reconciliation domain.Reconciliation
}

// RoomDetails is a room with its non-deleted beds.
type RoomDetails struct {
	Room domain.Room
	Beds []domain.Bed
}

// CreateTenant persists a new tenant on the given bed and reconciles the bed
// and its room in the same transaction.
func (s *TenantService) CreateTenant(ctx context.Context, in CreateTenantInput) (TenantResult, error) {
	if in.Status == "" {
		in.Status = domain.TenantActive
	}
	if err := validateAssociation(in.BedID, in.RoomID); err != nil {
		return TenantResult{}, err
	}
	if !in.Status.Valid() {
		return TenantResult{}, invalidStatus(in.Status)
	}
	if in.ExternalID == "" {
		in.ExternalID = newExternalID()
	}

	target := domain.Association{BedID: in.BedID, RoomID: in.RoomID}

	var res TenantResult
	err := s.engine.Atomically(ctx, func(store domain.Store) error {
		if err := s.engine.Lock(ctx, store, target); err != nil {
			return err
		}
		if err := s.engine.CheckTarget(ctx, store, 0, target, in.Status); err != nil {
			return err
		}

		tenant, err := store.CreateTenant(ctx, domain.NewTenant(in.ExternalID, target, in.Status))
		if err != nil {
			return err
		}

		rec, err := s.engine.Apply(ctx, store, domain.TenantCreated{
			TenantID: tenant.ID,
			Target:   target,
			Status:   tenant.Status,
		})
		if err != nil {
			return err
		}

		res = TenantResult{Tenant: tenant, Reconciliation: rec}
		return nil
	})
	if err != nil {
		return TenantResult{}, fmt.Errorf("creating tenant: %w", err)
	}

	if err := s.publish(ctx, domain.KindCreated, res); err != nil {
		return TenantResult{}, err
	}
	return res, nil
}

// UpdateTenant moves a tenant, changes its status, or both. The previous
// association is read from the stored row inside the transaction.
func (s *TenantService) UpdateTenant(ctx context.Context, id int64, in UpdateTenantInput) (TenantResult, error) {
	if in.BedID != nil && *in.BedID <= 0 {
		return TenantResult{}, &domain.ValidationError{Field: "bed_id", Reason: "must be positive"}
	}
	if in.RoomID != nil && *in.RoomID <= 0 {
		return TenantResult{}, &domain.ValidationError{Field: "room_id", Reason: "must be positive"}
	}
	if in.Status != nil && !in.Status.Valid() {
		return TenantResult{}, invalidStatus(*in.Status)
	}

	var res TenantResult
	err := s.engine.Atomically(ctx, func(store domain.Store) error {
		tenant, err := store.GetTenant(ctx, id)
		if err != nil {
			return err
		}

		prev := tenant.Association()
		next := prev
		if in.BedID != nil {
			next.BedID = *in.BedID
		}
		if in.RoomID != nil {
			next.RoomID = *in.RoomID
		}

		status := tenant.Status
		if in.Status != nil {
			status, err = s.transition(ctx, tenant.Status, *in.Status)
			if err != nil {
				return err
			}
		}

		if err := s.engine.Lock(ctx, store, prev, next); err != nil {
			return err
		}
		activating := status == domain.TenantActive && tenant.Status != domain.TenantActive
		if next != prev || activating {
			if err := s.engine.CheckTarget(ctx, store, tenant.ID, next, status); err != nil {
				return err
			}
		}

		tenant.BedID, tenant.RoomID = next.BedID, next.RoomID
		tenant.Status = status
		tenant.UpdatedAt = time.Now().UTC()
		if err := store.UpdateTenant(ctx, tenant); err != nil {
			return err
		}

		rec, err := s.engine.Apply(ctx, store, domain.TenantReassigned{
			TenantID: tenant.ID,
			Previous: prev,
			Next:     next,
			Status:   status,
		})
		if err != nil {
			return err
		}

		res = TenantResult{Tenant: tenant, Reconciliation: rec}
		return nil
	})
	if err != nil {
		return TenantResult{}, fmt.Errorf("updating tenant %d: %w", id, err)
	}

	if err := s.publish(ctx, domain.KindReassigned, res); err != nil {
		return TenantResult{}, err
	}
	return res, nil
}

// RemoveTenant soft-deletes a tenant and frees its bed.
func (s *TenantService) RemoveTenant(ctx context.Context, id int64) (TenantResult, error) {
	var res TenantResult
	err := s.engine.Atomically(ctx, func(store domain.Store) error {
		tenant, err := store.GetTenant(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.validator.Apply(ctx, tenant.Status, domain.EventRemove); err != nil {
			return err
		}

		prev := tenant.Association()
		if err := s.engine.Lock(ctx, store, prev); err != nil {
			return err
		}
		if err := store.SoftDeleteTenant(ctx, id); err != nil {
			return err
		}

		rec, err := s.engine.Apply(ctx, store, domain.TenantRemoved{TenantID: id, Previous: prev})
		if err != nil {
			return err
		}

		tenant.IsDeleted = true
		res = TenantResult{Tenant: tenant, Reconciliation: rec}
		return nil
	})
	if err != nil {
		return TenantResult{}, fmt.Errorf("removing tenant %d: %w", id, err)
	}

	if err := s.publish(ctx, domain.KindRemoved, res); err != nil {
		return TenantResult{}, err
	}
	return res, nil
}

// GetTenant returns a non-deleted tenant.
func (s *TenantService) GetTenant(ctx context.Context, id int64) (domain.Tenant, error) {
	var tenant domain.Tenant
	err := s.engine.Atomically(ctx, func(store domain.Store) error {
		var err error
		tenant, err = store.GetTenant(ctx, id)
		return err
	})
	return tenant, err
}

// transition validates a status change through the tenant state machine.
// Setting the current status again is allowed and changes nothing.
func (s *TenantService) transition(ctx context.Context, from, to domain.TenantStatus) (domain.TenantStatus, error) {
	event, ok := domain.EventFor(from, to)
	if !ok {
		return from, nil
	}
	return s.validator.Apply(ctx, from, event)
}

func (s *TenantService) publish(ctx context.Context, kind domain.LifecycleKind, res TenantResult) error {
	err := s.publisher.Publish(ctx, domain.OccupancyChange{
		Kind:           kind,
		Tenant:         res.Tenant,
		Reconciliation: res.Reconciliation,
	})
	if err != nil {
		return fmt.Errorf("publishing %s for tenant %d: %w", kind, res.Tenant.ID, err)
	}
	return nil
}

func validateAssociation(bedID, roomID int64) error {
	if bedID <= 0 {
		return &domain.ValidationError{Field: "bed_id", Reason: "required"}
	}
	if roomID <= 0 {
		return &domain.ValidationError{Field: "room_id", Reason: "required"}
	}
	return nil
}

func invalidStatus(status domain.TenantStatus) error {
	return &domain.ValidationError{
		Field:  "status",
		Reason: fmt.Sprintf("%q is not one of %s, %s", status, domain.TenantActive, domain.TenantInactive),
	}
}
