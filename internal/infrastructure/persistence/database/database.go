// Package database opens the SQL connection behind the durable key-value store.
package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite3"
	DriverLibSQL = "libsql"
)

// DB represents a wrapper around the standard SQL database connection.
type DB struct {
	*sql.DB
	Driver             string
	logger             *logging.ChanneledLogger
	slowQueryThreshold time.Duration
}

// NewConnection establishes a new database connection for the specified driver.
func NewConnection(driverName, dataSourceName string, logger *logging.ChanneledLogger, slowQueryThreshold time.Duration) (*DB, error) {
	start := time.Now()
	switch driverName {
	case DriverSQLite, DriverLibSQL:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driverName)
	}
	logger.Database().Debug("Creating new database connection", "driverName", driverName)

	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		logger.Database().Error("Failed to open database connection", "error", err.Error(), "driverName", driverName)
		return nil, fmt.Errorf("failed to open %s connection: %w", driverName, err)
	}

	if driverName == DriverSQLite {
		// A single writer keeps sqlite from returning SQLITE_BUSY under concurrent appends.
		db.SetMaxOpenConns(1)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		logger.Database().Error("Database ping failed", "error", err.Error(), "driverName", driverName)
		return nil, fmt.Errorf("failed to ping %s database: %w", driverName, err)
	}

	conn := &DB{DB: db, Driver: driverName, logger: logger, slowQueryThreshold: slowQueryThreshold}
	logger.Database().Info("Database connection established", "driverName", driverName, "duration", time.Since(start))
	conn.CheckSlowQuery("DATABASE_CONNECTION", time.Since(start))
	return conn, nil
}

// CheckSlowQuery logs query durations above the configured threshold.
func (db *DB) CheckSlowQuery(query string, duration time.Duration) {
	if db.slowQueryThreshold <= 0 || duration <= db.slowQueryThreshold {
		return
	}
	db.logger.Database().Warn("Slow query detected",
		"query", strings.TrimSpace(query),
		"duration", duration,
		"threshold", db.slowQueryThreshold)
}
