package river

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"
)

const (
	// QueueOccupancy is the queue occupancy change jobs are inserted into.
	QueueOccupancy = "occupancy"

	occupancyWorkers = 2
	maxAttempts      = 5
)

// InsertOpts routes every occupancy change job to QueueOccupancy.
func (OccupancyChangeArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueOccupancy, MaxAttempts: maxAttempts}
}

// Setup runs River's migrations against db and returns a client with the
// occupancy change worker registered. The caller starts and stops it.
func Setup(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Client, error) {
	driver := riversqlite.New(db)

	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		return nil, fmt.Errorf("creating river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return nil, fmt.Errorf("running river migrations: %w", err)
	}
	if len(res.Versions) > 0 {
		logger.InfoContext(ctx, "river schema migrated", "versions", len(res.Versions))
	}

	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, &OccupancyChangeWorker{Logger: logger}); err != nil {
		return nil, fmt.Errorf("registering occupancy worker: %w", err)
	}

	client, err := river.NewClient(driver, &river.Config{
		Logger: logger,
		Queues: map[string]river.QueueConfig{
			QueueOccupancy: {MaxWorkers: occupancyWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}
	return client, nil
}
