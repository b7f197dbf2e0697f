package store

import (
	"context"
	"fmt"
)

// Supported STORE_DRIVER values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the Repository selected by driver.
func Open(ctx context.Context, driver, dbPath, postgresDSN string) (Repository, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLite(dbPath)
	case DriverPostgres:
		return NewPostgres(ctx, postgresDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
