package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/neomorfeo/pgkeeper/internal/adapter/fsm"
	adapter "github.com/neomorfeo/pgkeeper/internal/adapter/http"
	"github.com/neomorfeo/pgkeeper/internal/adapter/sqlite"
	"github.com/neomorfeo/pgkeeper/internal/app"
	"github.com/neomorfeo/pgkeeper/internal/domain"
	"github.com/neomorfeo/pgkeeper/internal/occupancy"
)

// noopPublisher is a no-op EventPublisher for tests.
type noopPublisher struct{}

func (p *noopPublisher) Publish(context.Context, domain.OccupancyChange) error {
	return nil
}

// newTestServer creates a full-stack httptest.Server with SQLite in-memory.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := occupancy.New(store,
		occupancy.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
		occupancy.WithLogger(slog.New(slog.DiscardHandler)),
	)
	svc := app.NewTenantService(engine, &noopPublisher{}, fsm.New())

	router := chi.NewMux()
	api := humachi.New(router, huma.DefaultConfig("pgkeeper", "0.1.0"))
	adapter.Register(api, svc)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv
}

// doRequest performs an HTTP request with context (avoids noctx linter).
func doRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, reader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}

	return resp
}

// call performs a request, checks the status code and decodes the body into out.
func call(t *testing.T, method, url, body string, wantStatus int, out any) {
	t.Helper()

	resp := doRequest(t, method, url, body)
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d (body: %s)", method, url, resp.StatusCode, wantStatus, raw)
	}
	if out == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s %s: %v", method, url, err)
	}
}

func mustCreateRoom(t *testing.T, srv *httptest.Server, name string, beds int) adapter.RoomResponse {
	t.Helper()

	var room adapter.RoomResponse
	call(t, http.MethodPost, srv.URL+"/api/v1/rooms",
		fmt.Sprintf(`{"name":%q,"beds":%d}`, name, beds), http.StatusCreated, &room)
	return room
}

func mustCreateTenant(t *testing.T, srv *httptest.Server, bed adapter.BedResponse) adapter.TenantChangeResponse {
	t.Helper()

	var res adapter.TenantChangeResponse
	call(t, http.MethodPost, srv.URL+"/api/v1/tenants",
		fmt.Sprintf(`{"bed_id":%d,"room_id":%d}`, bed.ID, bed.RoomID), http.StatusCreated, &res)
	return res
}

func getRoom(t *testing.T, srv *httptest.Server, id int64) adapter.RoomResponse {
	t.Helper()

	var room adapter.RoomResponse
	call(t, http.MethodGet, fmt.Sprintf("%s/api/v1/rooms/%d", srv.URL, id), "", http.StatusOK, &room)
	return room
}

func assertRoom(t *testing.T, srv *httptest.Server, id int64, wantRoom string, wantBeds ...string) {
	t.Helper()

	room := getRoom(t, srv, id)
	if room.Status != wantRoom {
		t.Errorf("room %d status = %q, want %q", id, room.Status, wantRoom)
	}
	got := make([]string, len(room.Beds))
	for i, b := range room.Beds {
		got[i] = b.Status
	}
	if fmt.Sprint(got) != fmt.Sprint(wantBeds) {
		t.Errorf("room %d beds = %v, want %v", id, got, wantBeds)
	}
}

func tenantURL(srv *httptest.Server, id int64) string {
	return fmt.Sprintf("%s/api/v1/tenants/%d", srv.URL, id)
}

// --- Rooms ---

func TestCreateRoom(t *testing.T) {
	srv := newTestServer(t)
	room := mustCreateRoom(t, srv, "R1", 2)

	if room.ID == 0 {
		t.Error("ID should not be zero")
	}
	if room.Status != "AVAILABLE" {
		t.Errorf("Status = %q, want %q", room.Status, "AVAILABLE")
	}
	if len(room.Beds) != 2 {
		t.Fatalf("got %d beds, want 2", len(room.Beds))
	}
	for _, b := range room.Beds {
		if b.Status != "VACANT" || b.RoomID != room.ID {
			t.Errorf("bed %+v should be VACANT in room %d", b, room.ID)
		}
	}
}

func TestCreateRoom_MissingName(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/rooms", `{"beds":1}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestGetRoom_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/rooms/404", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestAddBed_ReopensFullRoom(t *testing.T) {
	srv := newTestServer(t)
	room := mustCreateRoom(t, srv, "R1", 1)
	mustCreateTenant(t, srv, room.Beds[0])
	assertRoom(t, srv, room.ID, "OCCUPIED", "OCCUPIED")

	var bed adapter.BedResponse
	call(t, http.MethodPost, fmt.Sprintf("%s/api/v1/rooms/%d/beds", srv.URL, room.ID),
		`{"label":"window"}`, http.StatusCreated, &bed)

	if bed.Label != "window" {
		t.Errorf("Label = %q, want %q", bed.Label, "window")
	}
	assertRoom(t, srv, room.ID, "AVAILABLE", "OCCUPIED", "VACANT")
}

func TestMaintenance(t *testing.T) {
	srv := newTestServer(t)
	room := mustCreateRoom(t, srv, "R1", 1)
	url := fmt.Sprintf("%s/api/v1/rooms/%d/maintenance", srv.URL, room.ID)

	var got adapter.RoomResponse
	call(t, http.MethodPut, url, `{"enabled":true}`, http.StatusOK, &got)
	if got.Status != "MAINTENANCE" {
		t.Fatalf("Status = %q, want %q", got.Status, "MAINTENANCE")
	}

	// Filling the room keeps the override.
	mustCreateTenant(t, srv, room.Beds[0])
	assertRoom(t, srv, room.ID, "MAINTENANCE", "OCCUPIED")

	call(t, http.MethodPut, url, `{"enabled":false}`, http.StatusOK, &got)
	if got.Status != "OCCUPIED" {
		t.Errorf("Status = %q after maintenance off, want %q", got.Status, "OCCUPIED")
	}
}

// --- Tenants ---

func TestCreateTenant(t *testing.T) {
	srv := newTestServer(t)
	room := mustCreateRoom(t, srv, "R1", 2)

	res := mustCreateTenant(t, srv, room.Beds[0])

	if res.Tenant.ID == 0 {
		t.Error("ID should not be zero")
	}
	if res.Tenant.ExternalTenantID == "" {
		t.Error("ExternalTenantID should be generated")
	}
	if res.Tenant.Status != "ACTIVE" {
		t.Errorf("Status = %q, want %q", res.Tenant.Status, "ACTIVE")
	}
	if res.Tenant.CreatedAt == "" {
		t.Error("CreatedAt should not be empty")
	}
	if len(res.Occupancy.Beds) != 1 || res.Occupancy.Beds[0].To != "OCCUPIED" {
		t.Errorf("Occupancy.Beds = %+v, want one change to OCCUPIED", res.Occupancy.Beds)
	}
	assertRoom(t, srv, room.ID, "AVAILABLE", "OCCUPIED", "VACANT")
}

func TestCreateTenant_Rejections(t *testing.T) {
	srv := newTestServer(t)
	r1 := mustCreateRoom(t, srv, "R1", 1)
	r2 := mustCreateRoom(t, srv, "R2", 1)
	mustCreateTenant(t, srv, r1.Beds[0])

	cases := []struct {
		name string
		body string
		want int
	}{
		{"occupied bed", fmt.Sprintf(`{"bed_id":%d,"room_id":%d}`, r1.Beds[0].ID, r1.ID), http.StatusConflict},
		{"bed in other room", fmt.Sprintf(`{"bed_id":%d,"room_id":%d}`, r2.Beds[0].ID, r1.ID), http.StatusUnprocessableEntity},
		{"unknown bed", fmt.Sprintf(`{"bed_id":404,"room_id":%d}`, r1.ID), http.StatusNotFound},
		{"unknown status", fmt.Sprintf(`{"bed_id":%d,"room_id":%d,"status":"EVICTED"}`, r2.Beds[0].ID, r2.ID), http.StatusUnprocessableEntity},
		{"missing room", fmt.Sprintf(`{"bed_id":%d}`, r2.Beds[0].ID), http.StatusUnprocessableEntity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/tenants", tc.body)
			defer resp.Body.Close()

			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}

	assertRoom(t, srv, r2.ID, "AVAILABLE", "VACANT")
}

func TestCreateTenant_DuplicateExternalID(t *testing.T) {
	srv := newTestServer(t)
	room := mustCreateRoom(t, srv, "R1", 2)
	url := srv.URL + "/api/v1/tenants"

	call(t, http.MethodPost, url,
		fmt.Sprintf(`{"external_tenant_id":"dup","bed_id":%d,"room_id":%d}`, room.Beds[0].ID, room.ID),
		http.StatusCreated, nil)
	call(t, http.MethodPost, url,
		fmt.Sprintf(`{"external_tenant_id":"dup","bed_id":%d,"room_id":%d}`, room.Beds[1].ID, room.ID),
		http.StatusConflict, nil)

	assertRoom(t, srv, room.ID, "AVAILABLE", "OCCUPIED", "VACANT")
}

func TestGetTenant(t *testing.T) {
	srv := newTestServer(t)
	room := mustCreateRoom(t, srv, "R1", 1)
	created := mustCreateTenant(t, srv, room.Beds[0])

	var got adapter.TenantResponse
	call(t, http.MethodGet, tenantURL(srv, created.Tenant.ID), "", http.StatusOK, &got)

	if got != created.Tenant {
		t.Errorf("got %+v, want %+v", got, created.Tenant)
	}
}

func TestGetTenant_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/tenants/404", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

// TestLifecycle walks a tenant through create, move, deactivate and remove
// and checks bed and room statuses after every step.
func TestLifecycle(t *testing.T) {
	srv := newTestServer(t)
	r1 := mustCreateRoom(t, srv, "R1", 2)
	r2 := mustCreateRoom(t, srv, "R2", 1)

	a := mustCreateTenant(t, srv, r1.Beds[0]).Tenant
	mustCreateTenant(t, srv, r1.Beds[1])
	assertRoom(t, srv, r1.ID, "OCCUPIED", "OCCUPIED", "OCCUPIED")

	var moved adapter.TenantChangeResponse
	call(t, http.MethodPatch, tenantURL(srv, a.ID),
		fmt.Sprintf(`{"bed_id":%d,"room_id":%d}`, r2.Beds[0].ID, r2.ID), http.StatusOK, &moved)
	if moved.Tenant.BedID != r2.Beds[0].ID || moved.Tenant.RoomID != r2.ID {
		t.Errorf("tenant not moved: %+v", moved.Tenant)
	}
	assertRoom(t, srv, r1.ID, "AVAILABLE", "VACANT", "OCCUPIED")
	assertRoom(t, srv, r2.ID, "OCCUPIED", "OCCUPIED")

	call(t, http.MethodPatch, tenantURL(srv, a.ID), `{"status":"INACTIVE"}`, http.StatusOK, nil)
	assertRoom(t, srv, r2.ID, "AVAILABLE", "VACANT")

	var removed adapter.TenantChangeResponse
	call(t, http.MethodDelete, tenantURL(srv, a.ID), "", http.StatusOK, &removed)
	if !removed.Tenant.IsDeleted {
		t.Error("removed tenant should be marked deleted")
	}
	assertRoom(t, srv, r2.ID, "AVAILABLE", "VACANT")

	resp := doRequest(t, http.MethodGet, tenantURL(srv, a.ID), "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after delete: status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestUpdateTenant_SameStatusIsNoOp(t *testing.T) {
	srv := newTestServer(t)
	room := mustCreateRoom(t, srv, "R1", 1)
	created := mustCreateTenant(t, srv, room.Beds[0])

	var res adapter.TenantChangeResponse
	call(t, http.MethodPatch, tenantURL(srv, created.Tenant.ID), `{"status":"ACTIVE"}`, http.StatusOK, &res)

	if res.Tenant.Status != "ACTIVE" {
		t.Errorf("Status = %q, want %q", res.Tenant.Status, "ACTIVE")
	}
	for _, b := range res.Occupancy.Beds {
		if b.From != b.To {
			t.Errorf("bed %d changed from %q to %q", b.BedID, b.From, b.To)
		}
	}
	assertRoom(t, srv, room.ID, "OCCUPIED", "OCCUPIED")
}

func TestUpdateTenant_OntoOccupiedBed(t *testing.T) {
	srv := newTestServer(t)
	room := mustCreateRoom(t, srv, "R1", 2)
	a := mustCreateTenant(t, srv, room.Beds[0])
	mustCreateTenant(t, srv, room.Beds[1])

	resp := doRequest(t, http.MethodPatch, tenantURL(srv, a.Tenant.ID),
		fmt.Sprintf(`{"bed_id":%d}`, room.Beds[1].ID))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	assertRoom(t, srv, room.ID, "OCCUPIED", "OCCUPIED", "OCCUPIED")
}

func TestRemoveTenant_Twice(t *testing.T) {
	srv := newTestServer(t)
	room := mustCreateRoom(t, srv, "R1", 1)
	created := mustCreateTenant(t, srv, room.Beds[0])

	call(t, http.MethodDelete, tenantURL(srv, created.Tenant.ID), "", http.StatusOK, nil)

	resp := doRequest(t, http.MethodDelete, tenantURL(srv, created.Tenant.ID), "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

// --- Reconcile ---

func TestReconcile(t *testing.T) {
	srv := newTestServer(t)
	room := mustCreateRoom(t, srv, "R1", 1)
	mustCreateTenant(t, srv, room.Beds[0])

	var rec adapter.ReconciliationResponse
	call(t, http.MethodPost, fmt.Sprintf("%s/api/v1/rooms/%d/reconcile", srv.URL, room.ID), "", http.StatusOK, &rec)
	for _, b := range rec.Beds {
		if b.From != b.To {
			t.Errorf("consistent bed %d changed from %q to %q", b.BedID, b.From, b.To)
		}
	}

	call(t, http.MethodPost, srv.URL+"/api/v1/reconcile", "", http.StatusOK, &rec)
	if len(rec.Rooms) != 1 {
		t.Errorf("reconciled %d rooms, want 1", len(rec.Rooms))
	}
	assertRoom(t, srv, room.ID, "OCCUPIED", "OCCUPIED")

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/rooms/404/reconcile", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
