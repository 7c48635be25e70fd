package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/pgkeeper/internal/app"
	"github.com/neomorfeo/pgkeeper/internal/domain"
)

// BedResponse is the API representation of a bed.
type BedResponse struct {
	ID     int64  `json:"id"`
	RoomID int64  `json:"room_id"`
	Label  string `json:"label"`
	Status string `json:"status" doc:"VACANT or OCCUPIED"`
}

func toBedResponse(b domain.Bed) BedResponse {
	return BedResponse{ID: b.ID, RoomID: b.RoomID, Label: b.Label, Status: string(b.Status)}
}

// RoomResponse is the API representation of a room and its beds.
type RoomResponse struct {
	ID     int64         `json:"id"`
	Name   string        `json:"name"`
	Status string        `json:"status" doc:"AVAILABLE, OCCUPIED or MAINTENANCE"`
	Beds   []BedResponse `json:"beds"`
}

func toRoomResponse(d app.RoomDetails) RoomResponse {
	beds := make([]BedResponse, len(d.Beds))
	for i, b := range d.Beds {
		beds[i] = toBedResponse(b)
	}
	return RoomResponse{ID: d.Room.ID, Name: d.Room.Name, Status: string(d.Room.Status), Beds: beds}
}

type CreateRoomInput struct {
	Body struct {
		Name string `json:"name" minLength:"1" maxLength:"100" doc:"Display name"`
		Beds int    `json:"beds,omitempty" minimum:"0" maximum:"64" doc:"Number of vacant beds to create"`
	}
}

type RoomIDInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Room ID"`
}

type RoomOutput struct {
	Body RoomResponse
}

type AddBedInput struct {
	ID   int64 `path:"id" minimum:"1" doc:"Room ID"`
	Body struct {
		Label string `json:"label,omitempty" maxLength:"100" doc:"Bed label; generated when omitted"`
	}
}

type BedOutput struct {
	Body BedResponse
}

type SetMaintenanceInput struct {
	ID   int64 `path:"id" minimum:"1" doc:"Room ID"`
	Body struct {
		Enabled bool `json:"enabled" doc:"Whether the room is under maintenance"`
	}
}

type ReconcileOutput struct {
	Body ReconciliationResponse
}

func registerRooms(api huma.API, svc *app.TenantService) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-room",
		Method:        http.MethodPost,
		Path:          "/api/v1/rooms",
		Summary:       "Create a room with vacant beds",
		Tags:          []string{"Rooms"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateRoomInput) (*RoomOutput, error) {
		room, err := svc.CreateRoom(ctx, input.Body.Name, input.Body.Beds)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &RoomOutput{Body: toRoomResponse(room)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-room",
		Method:      http.MethodGet,
		Path:        "/api/v1/rooms/{id}",
		Summary:     "Get a room with its beds",
		Tags:        []string{"Rooms"},
	}, func(ctx context.Context, input *RoomIDInput) (*RoomOutput, error) {
		room, err := svc.GetRoom(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &RoomOutput{Body: toRoomResponse(room)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-bed",
		Method:        http.MethodPost,
		Path:          "/api/v1/rooms/{id}/beds",
		Summary:       "Add a vacant bed to a room",
		Tags:          []string{"Rooms"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *AddBedInput) (*BedOutput, error) {
		bed, err := svc.AddBed(ctx, input.ID, input.Body.Label)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &BedOutput{Body: toBedResponse(bed)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-maintenance",
		Method:      http.MethodPut,
		Path:        "/api/v1/rooms/{id}/maintenance",
		Summary:     "Put a room into maintenance or take it out",
		Tags:        []string{"Rooms"},
	}, func(ctx context.Context, input *SetMaintenanceInput) (*RoomOutput, error) {
		room, err := svc.SetMaintenance(ctx, input.ID, input.Body.Enabled)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &RoomOutput{Body: toRoomResponse(room)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-room",
		Method:      http.MethodPost,
		Path:        "/api/v1/rooms/{id}/reconcile",
		Summary:     "Recompute a room and its beds from tenant assignments",
		Tags:        []string{"Maintenance"},
	}, func(ctx context.Context, input *RoomIDInput) (*ReconcileOutput, error) {
		rec, err := svc.ReconcileRoom(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &ReconcileOutput{Body: toReconciliationResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-all",
		Method:      http.MethodPost,
		Path:        "/api/v1/reconcile",
		Summary:     "Recompute every room and bed",
		Tags:        []string{"Maintenance"},
	}, func(ctx context.Context, _ *struct{}) (*ReconcileOutput, error) {
		rec, err := svc.ReconcileAll(ctx)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &ReconcileOutput{Body: toReconciliationResponse(rec)}, nil
	})
}
