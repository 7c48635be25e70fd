package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/pgkeeper/internal/domain"
)

// Compile-time check: Publisher implements domain.EventPublisher.
var _ domain.EventPublisher = (*Publisher)(nil)

// OccupancyChangeArgs carries one committed occupancy change. River
// serializes it as JSON into its job table; it is a full snapshot, so the
// worker never reads the occupancy tables.
type OccupancyChangeArgs struct {
	Change     string       `json:"kind"`
	TenantID   int64        `json:"tenant_id"`
	ExternalID string       `json:"external_tenant_id"`
	Status     string       `json:"status"`
	IsDeleted  bool         `json:"is_deleted"`
	Beds       []BedChange  `json:"beds"`
	Rooms      []RoomChange `json:"rooms"`
}

// BedChange is the job encoding of domain.BedChange.
type BedChange struct {
	BedID int64  `json:"bed_id"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// RoomChange is the job encoding of domain.RoomChange.
type RoomChange struct {
	RoomID int64  `json:"room_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (OccupancyChangeArgs) Kind() string { return "occupancy.changed" }

// NewOccupancyChangeArgs snapshots a domain change into job arguments.
func NewOccupancyChangeArgs(change domain.OccupancyChange) OccupancyChangeArgs {
	args := OccupancyChangeArgs{
		Change:     string(change.Kind),
		TenantID:   change.Tenant.ID,
		ExternalID: change.Tenant.ExternalID,
		Status:     string(change.Tenant.Status),
		IsDeleted:  change.Tenant.IsDeleted,
		Beds:       make([]BedChange, 0, len(change.Reconciliation.Beds)),
		Rooms:      make([]RoomChange, 0, len(change.Reconciliation.Rooms)),
	}
	for _, b := range change.Reconciliation.Beds {
		args.Beds = append(args.Beds, BedChange{BedID: b.BedID, From: string(b.From), To: string(b.To)})
	}
	for _, r := range change.Reconciliation.Rooms {
		args.Rooms = append(args.Rooms, RoomChange{RoomID: r.RoomID, From: string(r.From), To: string(r.To)})
	}
	return args
}

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Publisher implements domain.EventPublisher by enqueuing River jobs.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher backed by the given River client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish enqueues an occupancy change as an async job in River.
func (p *Publisher) Publish(ctx context.Context, change domain.OccupancyChange) error {
	_, err := p.client.Insert(ctx, NewOccupancyChangeArgs(change), nil)
	if err != nil {
		return fmt.Errorf("enqueuing occupancy change job: %w", err)
	}
	return nil
}
