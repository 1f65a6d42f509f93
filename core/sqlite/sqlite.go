// Package sqlite opens the SQLite databases behind the book store, using
// either the pure Go driver (modernc.org/sqlite) or the CGO one
// (mattn/go-sqlite3).
//
// Build modes:
//   - Default (CGO_ENABLED=0): Uses pure Go modernc.org/sqlite
//   - CGO mode (CGO_ENABLED=1 -tags cgo_sqlite): Uses mattn/go-sqlite3
//
// Use Open() instead of sql.Open() to ensure the correct driver is used.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// BusyTimeout is how long a statement waits on a lock held by another
// process, such as a watcher and a server sharing one database.
const BusyTimeout = 5 * time.Second

// Open opens a SQLite database using the compiled-in driver. The pool is limited
// to one connection so the pragmas set here apply to every statement:
// foreign keys are switched on and locks are waited on for BusyTimeout.
func Open(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		`PRAGMA foreign_keys = ON`,
		fmt.Sprintf(`PRAGMA busy_timeout = %d`, BusyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	return db, nil
}

// OpenReadOnly opens an existing database in read-only mode.
func OpenReadOnly(path string) (*sql.DB, error) {
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return Open(path + "?mode=ro")
}

// Info identifies the compiled-in driver.
type Info struct {
	DriverName string `json:"driver_name"`
	DriverType string `json:"driver_type"` // "purego" or "cgo"
	Package    string `json:"package"`
}

// GetInfo returns the compiled-in driver.
func GetInfo() Info {
	return Info{
		DriverName: driverName,
		DriverType: driverType,
		Package:    driverPackage,
	}
}
