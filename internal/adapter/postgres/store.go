// Package postgres implements the occupancy store on PostgreSQL via lib/pq.
//
// Transactions run at READ COMMITTED. Rooms and beds touched by a lifecycle
// event are locked with SELECT ... FOR UPDATE before any status is read, so
// concurrent events on the same rows queue behind each other and every
// recompute sees the latest committed tenant associations.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/neomorfeo/pgkeeper/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Compile-time check: Store implements domain.Transactor.
var _ domain.Transactor = (*Store)(nil)

// Store implements domain.Transactor using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL connection pool, runs migrations, and returns a ready store.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return NewFromDB(db)
}

// NewFromDB wraps an existing connection pool, runs migrations, and returns a ready store.
func NewFromDB(db *sql.DB) (*Store, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// WithTx runs fn in one READ COMMITTED transaction and commits if it returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(domain.Store) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError("beginning transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError("committing transaction", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

const tenantColumns = `id, external_tenant_id, bed_id, room_id, status, is_deleted, created_at, updated_at`

// GetTenant locks the tenant row so a concurrent update of the same tenant
// waits for this transaction.
func (s *txStore) GetTenant(ctx context.Context, id int64) (domain.Tenant, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1 AND NOT is_deleted FOR UPDATE`, id)

	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tenant{}, domain.TenantNotFound(id)
	}
	if err != nil {
		return domain.Tenant{}, mapError("scanning tenant", err)
	}
	return t, nil
}

func (s *txStore) CreateTenant(ctx context.Context, t domain.Tenant) (domain.Tenant, error) {
	err := s.tx.QueryRowContext(ctx,
		`INSERT INTO tenants (external_tenant_id, bed_id, room_id, status, is_deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, FALSE, $5, $6)
		 RETURNING id`,
		t.ExternalID, t.BedID, t.RoomID, string(t.Status), t.CreatedAt, t.UpdatedAt,
	).Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Tenant{}, &domain.ExternalIDConflictError{ExternalID: t.ExternalID}
		}
		return domain.Tenant{}, mapError("inserting tenant", err)
	}
	return t, nil
}

func (s *txStore) UpdateTenant(ctx context.Context, t domain.Tenant) error {
	result, err := s.tx.ExecContext(ctx,
		`UPDATE tenants SET bed_id = $1, room_id = $2, status = $3, updated_at = $4
		 WHERE id = $5 AND NOT is_deleted`,
		t.BedID, t.RoomID, string(t.Status), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return mapError("updating tenant", err)
	}
	return expectOne(result, domain.TenantNotFound(t.ID))
}

func (s *txStore) SoftDeleteTenant(ctx context.Context, id int64) error {
	result, err := s.tx.ExecContext(ctx,
		`UPDATE tenants SET is_deleted = TRUE, updated_at = now() WHERE id = $1 AND NOT is_deleted`, id)
	if err != nil {
		return mapError("deleting tenant", err)
	}
	return expectOne(result, domain.TenantNotFound(id))
}

func (s *txStore) ActiveTenantIDs(ctx context.Context, bedID int64) ([]int64, error) {
	return s.queryIDs(ctx, "listing bed occupants",
		`SELECT id FROM tenants
		 WHERE bed_id = $1 AND NOT is_deleted AND status = $2
		 ORDER BY id`,
		bedID, string(domain.TenantActive),
	)
}

func (s *txStore) GetBed(ctx context.Context, id int64) (domain.Bed, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT id, room_id, label, status, is_deleted FROM beds WHERE id = $1`, id)

	b, err := scanBed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bed{}, domain.BedNotFound(id)
	}
	if err != nil {
		return domain.Bed{}, mapError("scanning bed", err)
	}
	return b, nil
}

func (s *txStore) ListBeds(ctx context.Context, roomID int64) ([]domain.Bed, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT id, room_id, label, status, is_deleted FROM beds
		 WHERE room_id = $1 AND NOT is_deleted
		 ORDER BY id`, roomID)
	if err != nil {
		return nil, mapError("listing beds", err)
	}
	defer rows.Close()

	var beds []domain.Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, mapError("scanning bed row", err)
		}
		beds = append(beds, b)
	}
	return beds, mapError("listing beds", rows.Err())
}

func (s *txStore) CreateBed(ctx context.Context, b domain.Bed) (domain.Bed, error) {
	err := s.tx.QueryRowContext(ctx,
		`INSERT INTO beds (room_id, label, status, is_deleted) VALUES ($1, $2, $3, FALSE) RETURNING id`,
		b.RoomID, b.Label, string(b.Status),
	).Scan(&b.ID)
	if err != nil {
		return domain.Bed{}, mapError("inserting bed", err)
	}
	return b, nil
}

func (s *txStore) SetBedStatus(ctx context.Context, id int64, status domain.BedStatus) error {
	result, err := s.tx.ExecContext(ctx,
		`UPDATE beds SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return mapError("updating bed status", err)
	}
	return expectOne(result, domain.BedNotFound(id))
}

func (s *txStore) GetRoom(ctx context.Context, id int64) (domain.Room, error) {
	var r domain.Room
	var status string

	err := s.tx.QueryRowContext(ctx,
		`SELECT id, name, status, is_deleted FROM rooms WHERE id = $1`, id,
	).Scan(&r.ID, &r.Name, &status, &r.IsDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, domain.RoomNotFound(id)
	}
	if err != nil {
		return domain.Room{}, mapError("scanning room", err)
	}

	r.Status = domain.RoomStatus(status)
	return r, nil
}

func (s *txStore) ListRoomIDs(ctx context.Context) ([]int64, error) {
	return s.queryIDs(ctx, "listing rooms",
		`SELECT id FROM rooms WHERE NOT is_deleted ORDER BY id`)
}

func (s *txStore) CreateRoom(ctx context.Context, r domain.Room) (domain.Room, error) {
	err := s.tx.QueryRowContext(ctx,
		`INSERT INTO rooms (name, status, is_deleted) VALUES ($1, $2, FALSE) RETURNING id`,
		r.Name, string(r.Status),
	).Scan(&r.ID)
	if err != nil {
		return domain.Room{}, mapError("inserting room", err)
	}
	return r, nil
}

func (s *txStore) SetRoomStatus(ctx context.Context, id int64, status domain.RoomStatus) error {
	result, err := s.tx.ExecContext(ctx,
		`UPDATE rooms SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return mapError("updating room status", err)
	}
	return expectOne(result, domain.RoomNotFound(id))
}

func (s *txStore) LockRooms(ctx context.Context, ids []int64) error {
	return s.lock(ctx, "locking rooms",
		`SELECT id FROM rooms WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
}

func (s *txStore) LockBeds(ctx context.Context, ids []int64) error {
	return s.lock(ctx, "locking beds",
		`SELECT id FROM beds WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
}

// lock takes row locks in ascending id order. Missing rows are skipped; the
// caller finds out when it reads them.
func (s *txStore) lock(ctx context.Context, op, query string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.queryIDs(ctx, op, query, pq.Array(ids))
	return err
}

func (s *txStore) queryIDs(ctx context.Context, op, query string, args ...any) ([]int64, error) {
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(op, err)
		}
		ids = append(ids, id)
	}
	return ids, mapError(op, rows.Err())
}

func scanTenant(row scanner) (domain.Tenant, error) {
	var t domain.Tenant
	var status string

	err := row.Scan(&t.ID, &t.ExternalID, &t.BedID, &t.RoomID, &status, &t.IsDeleted, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Tenant{}, err
	}

	t.Status = domain.TenantStatus(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func scanBed(row scanner) (domain.Bed, error) {
	var b domain.Bed
	var status string

	if err := row.Scan(&b.ID, &b.RoomID, &b.Label, &status, &b.IsDeleted); err != nil {
		return domain.Bed{}, err
	}

	b.Status = domain.BedStatus(status)
	return b, nil
}

func expectOne(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return mapError("checking rows affected", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// Postgres error codes that mean the transaction lost a race and may be retried.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"

	codeUniqueViolation = "23505"
)

// isUniqueViolation checks if a Postgres error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation
}

// mapError classifies a driver error. Serialization failures, deadlocks and
// lock timeouts become a domain.ConflictError, anything else a
// domain.PersistenceError.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return &domain.ConflictError{Op: op, Err: err}
		}
	}
	return &domain.PersistenceError{Op: op, Err: err}
}
