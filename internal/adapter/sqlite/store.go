// Package sqlite implements the occupancy store on modernc.org/sqlite.
//
// Every transaction starts with BEGIN IMMEDIATE, so a writer holds the
// database write lock from its first statement until commit. Lifecycle events
// are therefore serialized and the explicit row-lock calls are no-ops.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/neomorfeo/pgkeeper/internal/domain"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// Compile-time check: Store implements domain.Transactor.
var _ domain.Transactor = (*Store)(nil)

// Store implements domain.Transactor using SQLite.
type Store struct {
	db *sql.DB
}

// DSN builds a modernc.org/sqlite data source name for path with the pragmas
// the store relies on: immediate transactions, a busy timeout and foreign keys.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// New opens a SQLite database at path, runs migrations, and returns a ready store.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: gets its own database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	return NewFromDB(db)
}

// NewFromDB wraps an existing database connection, runs migrations, and returns a ready store.
// Use this when the *sql.DB has been pre-configured (e.g., with otelsql instrumentation).
// The connection must have been opened with a DSN from DSN.
func NewFromDB(db *sql.DB) (*Store, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other adapters (e.g., river).
func (s *Store) DB() *sql.DB {
	return s.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// WithTx runs fn in one transaction and commits if it returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(domain.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
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

const timeFormat = "2006-01-02T15:04:05Z"

type txStore struct {
	tx *sql.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

const tenantColumns = `id, external_tenant_id, bed_id, room_id, status, is_deleted, created_at, updated_at`

func (s *txStore) GetTenant(ctx context.Context, id int64) (domain.Tenant, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = ? AND is_deleted = 0`, id)

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
	result, err := s.tx.ExecContext(ctx,
		`INSERT INTO tenants (external_tenant_id, bed_id, room_id, status, is_deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		t.ExternalID, t.BedID, t.RoomID, string(t.Status),
		t.CreatedAt.Format(timeFormat),
		t.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Tenant{}, &domain.ExternalIDConflictError{ExternalID: t.ExternalID}
		}
		return domain.Tenant{}, mapError("inserting tenant", err)
	}

	t.ID, err = result.LastInsertId()
	if err != nil {
		return domain.Tenant{}, mapError("reading tenant id", err)
	}
	return t, nil
}

func (s *txStore) UpdateTenant(ctx context.Context, t domain.Tenant) error {
	result, err := s.tx.ExecContext(ctx,
		`UPDATE tenants SET bed_id = ?, room_id = ?, status = ?, updated_at = ?
		 WHERE id = ? AND is_deleted = 0`,
		t.BedID, t.RoomID, string(t.Status), t.UpdatedAt.Format(timeFormat), t.ID,
	)
	if err != nil {
		return mapError("updating tenant", err)
	}
	return expectOne(result, domain.TenantNotFound(t.ID))
}

func (s *txStore) SoftDeleteTenant(ctx context.Context, id int64) error {
	result, err := s.tx.ExecContext(ctx,
		`UPDATE tenants SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`,
		time.Now().UTC().Format(timeFormat), id,
	)
	if err != nil {
		return mapError("deleting tenant", err)
	}
	return expectOne(result, domain.TenantNotFound(id))
}

func (s *txStore) ActiveTenantIDs(ctx context.Context, bedID int64) ([]int64, error) {
	return s.queryIDs(ctx, "listing bed occupants",
		`SELECT id FROM tenants
		 WHERE bed_id = ? AND is_deleted = 0 AND status = ?
		 ORDER BY id`,
		bedID, string(domain.TenantActive),
	)
}

func (s *txStore) GetBed(ctx context.Context, id int64) (domain.Bed, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT id, room_id, label, status, is_deleted FROM beds WHERE id = ?`, id)

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
		 WHERE room_id = ? AND is_deleted = 0
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
	result, err := s.tx.ExecContext(ctx,
		`INSERT INTO beds (room_id, label, status, is_deleted) VALUES (?, ?, ?, 0)`,
		b.RoomID, b.Label, string(b.Status),
	)
	if err != nil {
		return domain.Bed{}, mapError("inserting bed", err)
	}

	b.ID, err = result.LastInsertId()
	if err != nil {
		return domain.Bed{}, mapError("reading bed id", err)
	}
	return b, nil
}

func (s *txStore) SetBedStatus(ctx context.Context, id int64, status domain.BedStatus) error {
	result, err := s.tx.ExecContext(ctx,
		`UPDATE beds SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return mapError("updating bed status", err)
	}
	return expectOne(result, domain.BedNotFound(id))
}

func (s *txStore) GetRoom(ctx context.Context, id int64) (domain.Room, error) {
	var r domain.Room
	var status string

	err := s.tx.QueryRowContext(ctx,
		`SELECT id, name, status, is_deleted FROM rooms WHERE id = ?`, id,
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
		`SELECT id FROM rooms WHERE is_deleted = 0 ORDER BY id`)
}

func (s *txStore) CreateRoom(ctx context.Context, r domain.Room) (domain.Room, error) {
	result, err := s.tx.ExecContext(ctx,
		`INSERT INTO rooms (name, status, is_deleted) VALUES (?, ?, 0)`,
		r.Name, string(r.Status),
	)
	if err != nil {
		return domain.Room{}, mapError("inserting room", err)
	}

	r.ID, err = result.LastInsertId()
	if err != nil {
		return domain.Room{}, mapError("reading room id", err)
	}
	return r, nil
}

func (s *txStore) SetRoomStatus(ctx context.Context, id int64, status domain.RoomStatus) error {
	result, err := s.tx.ExecContext(ctx,
		`UPDATE rooms SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return mapError("updating room status", err)
	}
	return expectOne(result, domain.RoomNotFound(id))
}

// LockRooms is a no-op: the immediate transaction already holds the write lock.
func (s *txStore) LockRooms(context.Context, []int64) error { return nil }

// LockBeds is a no-op: the immediate transaction already holds the write lock.
func (s *txStore) LockBeds(context.Context, []int64) error { return nil }

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
	var status, createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.ExternalID, &t.BedID, &t.RoomID, &status, &t.IsDeleted, &createdAt, &updatedAt)
	if err != nil {
		return domain.Tenant{}, err
	}

	t.Status = domain.TenantStatus(status)
	if t.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return domain.Tenant{}, fmt.Errorf("parsing created_at of tenant %d: %w", t.ID, err)
	}
	if t.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return domain.Tenant{}, fmt.Errorf("parsing updated_at of tenant %d: %w", t.ID, err)
	}

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

// mapError classifies a driver error. Lock contention becomes a
// domain.ConflictError, anything else a domain.PersistenceError.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isBusy(err):
		return &domain.ConflictError{Op: op, Err: err}
	default:
		return &domain.PersistenceError{Op: op, Err: err}
	}
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isBusy checks if a SQLite error reports a locked database.
func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}
