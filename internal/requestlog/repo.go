// Package requestlog persists a rolling record of proxied requests to an
// on-disk SQLite database, for after-the-fact inspection of what Kestrel
// handled. Grounded on the teacher's internal/requestlog and
// internal/state/migrate.go, trimmed to the single table a forward proxy
// needs (no platform/account/node columns — those are teacher-specific
// multi-tenant routing concepts this proxy does not have).
package requestlog

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one row written to the request log.
type Entry struct {
	ID         string
	TSNanos    int64
	Method     string
	Target     string
	IsConnect  bool
	HTTPStatus int
	NetOK      bool
	DurationNs int64
}

// Repo owns the SQLite database backing the request log.
type Repo struct {
	db *sql.DB
}

// OpenRepo opens (creating if necessary) the request log database at path
// and applies pending migrations.
func OpenRepo(path string) (*Repo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("requestlog: open %s: %w", path, err)
	}
	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func migrateDB(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("requestlog: init migration source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("requestlog: init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("requestlog: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("requestlog: migrate up: %w", err)
	}
	return nil
}

// Insert writes one entry.
func (r *Repo) Insert(e Entry) error {
	_, err := r.db.Exec(
		`INSERT INTO request_logs (id, ts_ns, method, target, is_connect, http_status, net_ok, duration_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TSNanos, e.Method, e.Target, boolToInt(e.IsConnect), e.HTTPStatus, boolToInt(e.NetOK), e.DurationNs,
	)
	return err
}

// Close closes the underlying database handle.
func (r *Repo) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
