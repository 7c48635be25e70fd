package occupancy_test

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/neomorfeo/pgkeeper/internal/domain"
)

// --- In-memory transactional store ---

type state struct {
	tenants map[int64]domain.Tenant
	beds    map[int64]domain.Bed
	rooms   map[int64]domain.Room
	nextID  int64
}

func (s state) clone() state {
	return state{
		tenants: maps.Clone(s.tenants),
		beds:    maps.Clone(s.beds),
		rooms:   maps.Clone(s.rooms),
		nextID:  s.nextID,
	}
}

// memDB serializes transactions with a mutex and commits by swapping in the
// transaction's copy of the state.
type memDB struct {
	mu        sync.Mutex
	state     state
	calls     []string
	locks     []lockCall
	failOn    map[string]error
	conflicts int // number of upcoming transactions that fail with a conflict
	txCount   int
}

func newMemDB() *memDB {
	return &memDB{
		state: state{
			tenants: make(map[int64]domain.Tenant),
			beds:    make(map[int64]domain.Bed),
			rooms:   make(map[int64]domain.Room),
		},
		failOn: make(map[string]error),
	}
}

func (db *memDB) WithTx(ctx context.Context, fn func(domain.Store) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.txCount++
	tx := &memTx{db: db, state: db.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if db.conflicts > 0 {
		db.conflicts--
		return &domain.ConflictError{Op: "commit", Err: context.DeadlineExceeded}
	}
	db.state = tx.state
	return nil
}

func (db *memDB) room(id int64) domain.Room { return db.state.rooms[id] }
func (db *memDB) bed(id int64) domain.Bed   { return db.state.beds[id] }

func (db *memDB) addRoom(name string, status domain.RoomStatus) int64 {
	db.state.nextID++
	id := db.state.nextID
	db.state.rooms[id] = domain.Room{ID: id, Name: name, Status: status}
	return id
}

func (db *memDB) addBed(roomID int64, status domain.BedStatus) int64 {
	db.state.nextID++
	id := db.state.nextID
	db.state.beds[id] = domain.Bed{ID: id, RoomID: roomID, Status: status}
	return id
}

func (db *memDB) addTenant(bedID, roomID int64, status domain.TenantStatus) int64 {
	db.state.nextID++
	id := db.state.nextID
	db.state.tenants[id] = domain.Tenant{ID: id, BedID: bedID, RoomID: roomID, Status: status}
	return id
}

type memTx struct {
	db    *memDB
	state state
}

func (tx *memTx) record(call string) error {
	tx.db.calls = append(tx.db.calls, call)
	return tx.db.failOn[call]
}

func (tx *memTx) GetTenant(_ context.Context, id int64) (domain.Tenant, error) {
	if err := tx.record("GetTenant"); err != nil {
		return domain.Tenant{}, err
	}
	t, ok := tx.state.tenants[id]
	if !ok || t.IsDeleted {
		return domain.Tenant{}, domain.TenantNotFound(id)
	}
	return t, nil
}

func (tx *memTx) CreateTenant(_ context.Context, t domain.Tenant) (domain.Tenant, error) {
	if err := tx.record("CreateTenant"); err != nil {
		return domain.Tenant{}, err
	}
	tx.state.nextID++
	t.ID = tx.state.nextID
	tx.state.tenants[t.ID] = t
	return t, nil
}

func (tx *memTx) UpdateTenant(_ context.Context, t domain.Tenant) error {
	if err := tx.record("UpdateTenant"); err != nil {
		return err
	}
	tx.state.tenants[t.ID] = t
	return nil
}

func (tx *memTx) SoftDeleteTenant(_ context.Context, id int64) error {
	if err := tx.record("SoftDeleteTenant"); err != nil {
		return err
	}
	t := tx.state.tenants[id]
	t.IsDeleted = true
	tx.state.tenants[id] = t
	return nil
}

func (tx *memTx) ActiveTenantIDs(_ context.Context, bedID int64) ([]int64, error) {
	if err := tx.record("ActiveTenantIDs"); err != nil {
		return nil, err
	}
	var ids []int64
	for _, t := range tx.state.tenants {
		if t.BedID == bedID && t.Occupies() {
			ids = append(ids, t.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (tx *memTx) GetBed(_ context.Context, id int64) (domain.Bed, error) {
	if err := tx.record("GetBed"); err != nil {
		return domain.Bed{}, err
	}
	b, ok := tx.state.beds[id]
	if !ok {
		return domain.Bed{}, domain.BedNotFound(id)
	}
	return b, nil
}

func (tx *memTx) ListBeds(_ context.Context, roomID int64) ([]domain.Bed, error) {
	if err := tx.record("ListBeds"); err != nil {
		return nil, err
	}
	var beds []domain.Bed
	for _, b := range tx.state.beds {
		if b.RoomID == roomID && !b.IsDeleted {
			beds = append(beds, b)
		}
	}
	slices.SortFunc(beds, func(a, b domain.Bed) int { return cmp.Compare(a.ID, b.ID) })
	return beds, nil
}

func (tx *memTx) CreateBed(_ context.Context, b domain.Bed) (domain.Bed, error) {
	if err := tx.record("CreateBed"); err != nil {
		return domain.Bed{}, err
	}
	tx.state.nextID++
	b.ID = tx.state.nextID
	tx.state.beds[b.ID] = b
	return b, nil
}

func (tx *memTx) SetBedStatus(_ context.Context, id int64, status domain.BedStatus) error {
	if err := tx.record("SetBedStatus"); err != nil {
		return err
	}
	b := tx.state.beds[id]
	b.Status = status
	tx.state.beds[id] = b
	return nil
}

func (tx *memTx) GetRoom(_ context.Context, id int64) (domain.Room, error) {
	if err := tx.record("GetRoom"); err != nil {
		return domain.Room{}, err
	}
	r, ok := tx.state.rooms[id]
	if !ok {
		return domain.Room{}, domain.RoomNotFound(id)
	}
	return r, nil
}

func (tx *memTx) ListRoomIDs(_ context.Context) ([]int64, error) {
	if err := tx.record("ListRoomIDs"); err != nil {
		return nil, err
	}
	ids := slices.Collect(maps.Keys(tx.state.rooms))
	slices.Sort(ids)
	return ids, nil
}

func (tx *memTx) CreateRoom(_ context.Context, r domain.Room) (domain.Room, error) {
	if err := tx.record("CreateRoom"); err != nil {
		return domain.Room{}, err
	}
	tx.state.nextID++
	r.ID = tx.state.nextID
	tx.state.rooms[r.ID] = r
	return r, nil
}

func (tx *memTx) SetRoomStatus(_ context.Context, id int64, status domain.RoomStatus) error {
	if err := tx.record("SetRoomStatus"); err != nil {
		return err
	}
	r := tx.state.rooms[id]
	r.Status = status
	tx.state.rooms[id] = r
	return nil
}

func (tx *memTx) LockRooms(_ context.Context, ids []int64) error {
	return tx.recordLock("LockRooms", ids)
}

func (tx *memTx) LockBeds(_ context.Context, ids []int64) error {
	return tx.recordLock("LockBeds", ids)
}

func (tx *memTx) recordLock(call string, ids []int64) error {
	if err := tx.record(call); err != nil {
		return err
	}
	tx.db.locks = append(tx.db.locks, lockCall{kind: call, ids: slices.Clone(ids)})
	return nil
}

type lockCall struct {
	kind string
	ids  []int64
}
