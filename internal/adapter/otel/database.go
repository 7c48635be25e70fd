package otel

import (
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OpenDB opens a database with OpenTelemetry instrumentation. driver is
// "sqlite" or "postgres"; dsn is passed through unchanged. The returned
// *sql.DB traces every SQL operation and reports connection pool metrics.
func OpenDB(driver, dsn string) (*sql.DB, error) {
	system, err := dbSystem(driver)
	if err != nil {
		return nil, err
	}

	db, err := otelsql.Open(driver, dsn, otelsql.WithAttributes(system))
	if err != nil {
		return nil, fmt.Errorf("opening instrumented database: %w", err)
	}

	// SQLite performs best with a single connection when sharing the DB
	// with an embedded job queue (River). Writers then queue in the pool
	// instead of spinning on SQLITE_BUSY.
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	if _, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(system)); err != nil {
		return nil, fmt.Errorf("registering db stats metrics: %w", err)
	}

	return db, nil
}

func dbSystem(driver string) (attribute.KeyValue, error) {
	switch driver {
	case "sqlite":
		return semconv.DBSystemSqlite, nil
	case "postgres":
		return semconv.DBSystemPostgreSQL, nil
	default:
		return attribute.KeyValue{}, fmt.Errorf("unsupported database driver: %q (use \"sqlite\" or \"postgres\")", driver)
	}
}
