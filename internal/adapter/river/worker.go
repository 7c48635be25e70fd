package river

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
)

// OccupancyChangeWorker records committed occupancy changes from the River
// queue in the structured log.
type OccupancyChangeWorker struct {
	river.WorkerDefaults[OccupancyChangeArgs]

	Logger *slog.Logger
}

// Work processes a single occupancy change job.
func (w *OccupancyChangeWorker) Work(ctx context.Context, job *river.Job[OccupancyChangeArgs]) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.InfoContext(ctx, "occupancy changed",
		"kind", job.Args.Change,
		"tenant_id", job.Args.TenantID,
		"external_tenant_id", job.Args.ExternalID,
		"status", job.Args.Status,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	for _, b := range job.Args.Beds {
		if b.From != b.To {
			logger.InfoContext(ctx, "bed status changed", "bed_id", b.BedID, "from", b.From, "to", b.To)
		}
	}
	for _, r := range job.Args.Rooms {
		if r.From != r.To {
			logger.InfoContext(ctx, "room status changed", "room_id", r.RoomID, "from", r.From, "to", r.To)
		}
	}
	return nil
}
