// Package http exposes the tenant lifecycle and room inventory operations as
// a huma API.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/pgkeeper/internal/app"
	"github.com/neomorfeo/pgkeeper/internal/domain"
)

const timeFormat = time.RFC3339

// TenantResponse is the API representation of a tenant.
type TenantResponse struct {
	ID               int64  `json:"id" doc:"Durable numeric identifier"`
	ExternalTenantID string `json:"external_tenant_id" doc:"Opaque correlation identifier"`
	BedID            int64  `json:"bed_id" doc:"Assigned bed"`
	RoomID           int64  `json:"room_id" doc:"Room of the assigned bed"`
	Status           string `json:"status" doc:"ACTIVE or INACTIVE"`
	IsDeleted        bool   `json:"is_deleted" doc:"Whether the tenant has been removed"`
	CreatedAt        string `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt        string `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
}

func toTenantResponse(t domain.Tenant) TenantResponse {
	return TenantResponse{
		ID:               t.ID,
		ExternalTenantID: t.ExternalID,
		BedID:            t.BedID,
		RoomID:           t.RoomID,
		Status:           string(t.Status),
		IsDeleted:        t.IsDeleted,
		CreatedAt:        t.CreatedAt.Format(timeFormat),
		UpdatedAt:        t.UpdatedAt.Format(timeFormat),
	}
}

// BedChangeResponse reports one bed recomputed by a request.
type BedChangeResponse struct {
	BedID int64  `json:"bed_id"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// RoomChangeResponse reports one room recomputed by a request.
type RoomChangeResponse struct {
	RoomID int64  `json:"room_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// ReconciliationResponse lists the beds and rooms a request recomputed, in
// the order they were written.
type ReconciliationResponse struct {
	Beds  []BedChangeResponse  `json:"beds"`
	Rooms []RoomChangeResponse `json:"rooms"`
}

func toReconciliationResponse(r domain.Reconciliation) ReconciliationResponse {
	out := ReconciliationResponse{
		Beds:  make([]BedChangeResponse, len(r.Beds)),
		Rooms: make([]RoomChangeResponse, len(r.Rooms)),
	}
	for i, b := range r.Beds {
		out.Beds[i] = BedChangeResponse{BedID: b.BedID, From: string(b.From), To: string(b.To)}
	}
	for i, rm := range r.Rooms {
		out.Rooms[i] = RoomChangeResponse{RoomID: rm.RoomID, From: string(rm.From), To: string(rm.To)}
	}
	return out
}

// TenantChangeResponse is a tenant after a lifecycle event with the
// occupancy changes the event committed.
type TenantChangeResponse struct {
	Tenant    TenantResponse         `json:"tenant"`
	Occupancy ReconciliationResponse `json:"occupancy"`
}

func toTenantChangeResponse(res app.TenantResult) TenantChangeResponse {
	return TenantChangeResponse{
		Tenant:    toTenantResponse(res.Tenant),
		Occupancy: toReconciliationResponse(res.Reconciliation),
	}
}

// --- Create Tenant ---

type CreateTenantInput struct {
	Body struct {
		ExternalTenantID string `json:"external_tenant_id,omitempty" maxLength:"100" doc:"Correlation identifier; generated when omitted"`
		BedID            int64  `json:"bed_id" minimum:"1" doc:"Bed to assign"`
		RoomID           int64  `json:"room_id" minimum:"1" doc:"Room the bed belongs to"`
		Status           string `json:"status,omitempty" enum:"ACTIVE,INACTIVE" doc:"Initial status (default ACTIVE)"`
	}
}

type TenantChangeOutput struct {
	Body TenantChangeResponse
}

// --- Get Tenant ---

type TenantIDInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Tenant ID"`
}

type GetTenantOutput struct {
	Body TenantResponse
}

// --- Update Tenant ---

type UpdateTenantInput struct {
	ID   int64 `path:"id" minimum:"1" doc:"Tenant ID"`
	Body struct {
		BedID  *int64  `json:"bed_id,omitempty" minimum:"1" doc:"New bed; the stored room is kept unless room_id is also sent"`
		RoomID *int64  `json:"room_id,omitempty" minimum:"1" doc:"New room"`
		Status *string `json:"status,omitempty" enum:"ACTIVE,INACTIVE" doc:"New status"`
	}
}

// Register adds all tenant and room API routes to the Huma API.
func Register(api huma.API, svc *app.TenantService) {
	registerTenants(api, svc)
	registerRooms(api, svc)
}

func registerTenants(api huma.API, svc *app.TenantService) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-tenant",
		Method:        http.MethodPost,
		Path:          "/api/v1/tenants",
		Summary:       "Create a tenant on a bed",
		Tags:          []string{"Tenants"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateTenantInput) (*TenantChangeOutput, error) {
		res, err := svc.CreateTenant(ctx, app.CreateTenantInput{
			ExternalID: input.Body.ExternalTenantID,
			BedID:      input.Body.BedID,
			RoomID:     input.Body.RoomID,
			Status:     domain.TenantStatus(input.Body.Status),
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantChangeOutput{Body: toTenantChangeResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants/{id}",
		Summary:     "Get a tenant by ID",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *TenantIDInput) (*GetTenantOutput, error) {
		tenant, err := svc.GetTenant(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetTenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-tenant",
		Method:      http.MethodPatch,
		Path:        "/api/v1/tenants/{id}",
		Summary:     "Move a tenant or change its status",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *UpdateTenantInput) (*TenantChangeOutput, error) {
		in := app.UpdateTenantInput{
			BedID:  input.Body.BedID,
			RoomID: input.Body.RoomID,
		}
		if input.Body.Status != nil {
			s := domain.TenantStatus(*input.Body.Status)
			in.Status = &s
		}

		res, err := svc.UpdateTenant(ctx, input.ID, in)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantChangeOutput{Body: toTenantChangeResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-tenant",
		Method:      http.MethodDelete,
		Path:        "/api/v1/tenants/{id}",
		Summary:     "Remove a tenant and free its bed",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *TenantIDInput) (*TenantChangeOutput, error) {
		res, err := svc.RemoveTenant(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantChangeOutput{Body: toTenantChangeResponse(res)}, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		return huma.Error404NotFound(notFound.Error())
	}

	var occupied *domain.BedOccupiedError
	if errors.As(err, &occupied) {
		return huma.Error409Conflict(occupied.Error())
	}

	var dup *domain.ExternalIDConflictError
	if errors.As(err, &dup) {
		return huma.Error409Conflict(dup.Error())
	}

	if errors.Is(err, domain.ErrConcurrencyConflict) {
		return huma.Error409Conflict("concurrent update, retry the request")
	}

	var invalid *domain.InvalidAssociationError
	if errors.As(err, &invalid) {
		return huma.Error422UnprocessableEntity(invalid.Error())
	}

	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		return huma.Error422UnprocessableEntity(validation.Error())
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error422UnprocessableEntity(trErr.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
