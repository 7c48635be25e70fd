// Package occupancy keeps bed and room status consistent with tenant
// assignments. Every operation recomputes status from current counts inside
// one store transaction, so repeated calls converge on the same result.
package occupancy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/neomorfeo/pgkeeper/internal/domain"
)

// DefaultMaxRetries bounds automatic retries of a lifecycle event that hit a
// write conflict.
const DefaultMaxRetries = 3

// Engine orchestrates one transactional unit of work per lifecycle event.
type Engine struct {
	tx         domain.Transactor
	maxRetries uint
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRetries sets how many times a conflicting transaction is retried.
// Zero disables retries.
func WithMaxRetries(n uint) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithBackOff sets the factory for the delay policy between retries.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(e *Engine) { e.newBackOff = fn }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine that opens transactions through tx.
func New(tx domain.Transactor, opts ...Option) *Engine {
	e := &Engine{
		tx:         tx,
		maxRetries: DefaultMaxRetries,
		newBackOff: defaultBackOff,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return b
}

// Atomically runs fn in one transaction. A transaction that fails with
// domain.ErrConcurrencyConflict is rolled back and run again from the start,
// up to the configured retry limit. Any other error is returned as is.
func (e *Engine) Atomically(ctx context.Context, fn func(domain.Store) error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := e.tx.WithTx(ctx, fn)
		if err == nil || errors.Is(err, domain.ErrConcurrencyConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxTries(e.maxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.logger.WarnContext(ctx, "retrying after write conflict", "err", err, "delay", next)
		}),
	)
	return err
}

// OnTenantCreated reconciles the bed and room of a tenant whose row is
// already persisted.
func (e *Engine) OnTenantCreated(ctx context.Context, tenantID int64, target domain.Association, status domain.TenantStatus) (domain.Reconciliation, error) {
	return e.run(ctx, domain.TenantCreated{TenantID: tenantID, Target: target, Status: status})
}

// OnTenantReassigned reconciles the previous and next bed and room of a
// tenant whose row already carries the next association and status.
func (e *Engine) OnTenantReassigned(ctx context.Context, tenantID int64, previous, next domain.Association, status domain.TenantStatus) (domain.Reconciliation, error) {
	return e.run(ctx, domain.TenantReassigned{TenantID: tenantID, Previous: previous, Next: next, Status: status})
}

// OnTenantRemoved reconciles the bed and room a soft-deleted tenant left.
func (e *Engine) OnTenantRemoved(ctx context.Context, tenantID int64, previous domain.Association) (domain.Reconciliation, error) {
	return e.run(ctx, domain.TenantRemoved{TenantID: tenantID, Previous: previous})
}

func (e *Engine) run(ctx context.Context, ev domain.LifecycleEvent) (domain.Reconciliation, error) {
	var rec domain.Reconciliation
	err := e.Atomically(ctx, func(store domain.Store) error {
		var err error
		rec, err = e.Apply(ctx, store, ev)
		return err
	})
	return rec, err
}

// Lock takes row locks on every room, then every bed, named by assocs. Each
// set is locked in ascending id order so concurrent events cannot deadlock.
func (e *Engine) Lock(ctx context.Context, store domain.Store, assocs ...domain.Association) error {
	rooms := make([]int64, 0, len(assocs))
	beds := make([]int64, 0, len(assocs))
	for _, a := range assocs {
		if a.RoomID != 0 {
			rooms = append(rooms, a.RoomID)
		}
		if a.BedID != 0 {
			beds = append(beds, a.BedID)
		}
	}

	if err := store.LockRooms(ctx, sortedUnique(rooms)); err != nil {
		return err
	}
	return store.LockBeds(ctx, sortedUnique(beds))
}

// CheckTarget validates that a tenant may be placed on target. It must run
// after Lock and before the tenant row is written.
func (e *Engine) CheckTarget(ctx context.Context, store domain.Store, tenantID int64, target domain.Association, status domain.TenantStatus) error {
	room, err := store.GetRoom(ctx, target.RoomID)
	if err != nil {
		return err
	}
	if room.IsDeleted {
		return domain.RoomNotFound(room.ID)
	}

	bed, err := store.GetBed(ctx, target.BedID)
	if err != nil {
		return err
	}
	if bed.IsDeleted {
		return domain.BedNotFound(bed.ID)
	}
	if bed.RoomID != target.RoomID {
		return &domain.InvalidAssociationError{
			BedID:  target.BedID,
			RoomID: target.RoomID,
			Reason: fmt.Sprintf("bed belongs to room %d", bed.RoomID),
		}
	}

	if status != domain.TenantActive {
		return nil
	}

	occupants, err := store.ActiveTenantIDs(ctx, bed.ID)
	if err != nil {
		return err
	}
	for _, id := range occupants {
		if id != tenantID {
			return &domain.BedOccupiedError{BedID: bed.ID, TenantID: id}
		}
	}
	return nil
}

// Apply reconciles every bed and room affected by ev inside the caller's
// transaction. All beds are written before any room is recomputed, so a room
// shared by the previous and next association is recomputed once and sees
// both bed changes.
func (e *Engine) Apply(ctx context.Context, store domain.Store, ev domain.LifecycleEvent) (domain.Reconciliation, error) {
	affected := ev.Affected()
	if err := e.Lock(ctx, store, affected...); err != nil {
		return domain.Reconciliation{}, err
	}

	var rec domain.Reconciliation
	var rooms []int64
	for _, a := range affected {
		change, roomID, err := e.reconcile(ctx, store, a.BedID)
		if err != nil {
			return domain.Reconciliation{}, err
		}
		rec.Beds = append(rec.Beds, change)
		if !slices.Contains(rooms, roomID) {
			rooms = append(rooms, roomID)
		}
	}

	for _, roomID := range rooms {
		change, err := e.reconcileRoom(ctx, store, roomID)
		if err != nil {
			return domain.Reconciliation{}, err
		}
		rec.Rooms = append(rec.Rooms, change)
	}

	return rec, nil
}

// Refresh recomputes every bed in a room and then the room itself inside the
// caller's transaction.
func (e *Engine) Refresh(ctx context.Context, store domain.Store, roomID int64) (domain.Reconciliation, error) {
	if _, err := store.GetRoom(ctx, roomID); err != nil {
		return domain.Reconciliation{}, err
	}
	if err := store.LockRooms(ctx, []int64{roomID}); err != nil {
		return domain.Reconciliation{}, err
	}

	beds, err := store.ListBeds(ctx, roomID)
	if err != nil {
		return domain.Reconciliation{}, err
	}
	ids := make([]int64, len(beds))
	for i, b := range beds {
		ids[i] = b.ID
	}
	if err := store.LockBeds(ctx, sortedUnique(ids)); err != nil {
		return domain.Reconciliation{}, err
	}

	var rec domain.Reconciliation
	for _, id := range ids {
		change, _, err := e.reconcile(ctx, store, id)
		if err != nil {
			return domain.Reconciliation{}, err
		}
		rec.Beds = append(rec.Beds, change)
	}

	change, err := e.reconcileRoom(ctx, store, roomID)
	if err != nil {
		return domain.Reconciliation{}, err
	}
	rec.Rooms = append(rec.Rooms, change)
	return rec, nil
}

// ReconcileRoom runs Refresh in its own transaction.
func (e *Engine) ReconcileRoom(ctx context.Context, roomID int64) (domain.Reconciliation, error) {
	var rec domain.Reconciliation
	err := e.Atomically(ctx, func(store domain.Store) error {
		var err error
		rec, err = e.Refresh(ctx, store, roomID)
		return err
	})
	return rec, err
}

// ReconcileAll refreshes every room, one transaction per room.
func (e *Engine) ReconcileAll(ctx context.Context) (domain.Reconciliation, error) {
	var ids []int64
	err := e.Atomically(ctx, func(store domain.Store) error {
		var err error
		ids, err = store.ListRoomIDs(ctx)
		return err
	})
	if err != nil {
		return domain.Reconciliation{}, err
	}

	var rec domain.Reconciliation
	for _, id := range ids {
		r, err := e.ReconcileRoom(ctx, id)
		if err != nil {
			return rec, fmt.Errorf("reconciling room %d: %w", id, err)
		}
		rec = rec.Merge(r)
	}
	return rec, nil
}

// reconcile writes a bed's status from a fresh count of its active tenants
// and returns the id of the room that owns it.
func (e *Engine) reconcile(ctx context.Context, store domain.Store, bedID int64) (domain.BedChange, int64, error) {
	bed, err := store.GetBed(ctx, bedID)
	if err != nil {
		return domain.BedChange{}, 0, err
	}

	active, err := store.ActiveTenantIDs(ctx, bedID)
	if err != nil {
		return domain.BedChange{}, 0, err
	}

	next := domain.ComputeBedStatus(len(active))
	if next != bed.Status {
		if err := store.SetBedStatus(ctx, bedID, next); err != nil {
			return domain.BedChange{}, 0, err
		}
	}

	return domain.BedChange{BedID: bedID, From: bed.Status, To: next}, bed.RoomID, nil
}

// reconcileRoom writes a room's status from its non-deleted beds.
func (e *Engine) reconcileRoom(ctx context.Context, store domain.Store, roomID int64) (domain.RoomChange, error) {
	room, err := store.GetRoom(ctx, roomID)
	if err != nil {
		return domain.RoomChange{}, err
	}

	beds, err := store.ListBeds(ctx, roomID)
	if err != nil {
		return domain.RoomChange{}, err
	}

	occupied := 0
	for _, b := range beds {
		if b.Status == domain.BedOccupied {
			occupied++
		}
	}

	next := domain.ComputeRoomStatus(len(beds), occupied, room.Status)
	if next != room.Status {
		if err := store.SetRoomStatus(ctx, roomID, next); err != nil {
			return domain.RoomChange{}, err
		}
	}

	return domain.RoomChange{RoomID: roomID, From: room.Status, To: next}, nil
}

func sortedUnique(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
