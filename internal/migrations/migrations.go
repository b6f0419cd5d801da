// Package migrations embeds the injections/callbacks schema and applies it
// with golang-migrate, the way fleetd embeds its own schema migrations.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed queries/*.sql
var sqliteMigrations embed.FS

//go:embed queries_postgres/*.sql
var postgresMigrations embed.FS

func newMigrator(d *sql.DB, driverName string) (*migrate.Migrate, error) {
	switch driverName {
	case "sqlite", "sqlite3":
		source, err := iofs.New(sqliteMigrations, "queries")
		if err != nil {
			return nil, fmt.Errorf("create source driver: %w", err)
		}
		if _, err := d.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
		driver, err := sqlite3.WithInstance(d, &sqlite3.Config{})
		if err != nil {
			return nil, fmt.Errorf("create sqlite3 driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	case "postgres":
		source, err := iofs.New(postgresMigrations, "queries_postgres")
		if err != nil {
			return nil, fmt.Errorf("create source driver: %w", err)
		}
		driver, err := postgres.WithInstance(d, &postgres.Config{})
		if err != nil {
			return nil, fmt.Errorf("create postgres driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", source, "postgres", driver)
	default:
		return nil, fmt.Errorf("unsupported migration driver %q", driverName)
	}
}

// MigrateUp applies every pending migration for driverName ("sqlite3" or
// "postgres") against d, and reports the resulting schema version.
func MigrateUp(d *sql.DB, driverName string) (version int, dirty bool, err error) {
	m, err := newMigrator(d, driverName)
	if err != nil {
		return -1, false, err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return -1, false, fmt.Errorf("run migrations: %w", err)
	}

	v, dirty, err := m.Version()
	if err == migrate.ErrNilVersion {
		return 0, false, nil
	}
	if err != nil {
		return -1, false, fmt.Errorf("read schema version: %w", err)
	}
	return int(v), dirty, nil
}

// MigrateDown rolls back every applied migration for driverName.
func MigrateDown(d *sql.DB, driverName string) (version int, dirty bool, err error) {
	m, err := newMigrator(d, driverName)
	if err != nil {
		return -1, false, err
	}

	if err := m.Down(); err != nil && err != migrate.ErrNoChange {
		return -1, false, fmt.Errorf("roll back migrations: %w", err)
	}

	v, dirty, err := m.Version()
	if err == migrate.ErrNilVersion {
		return 0, false, nil
	}
	if err != nil {
		return -1, false, fmt.Errorf("read schema version: %w", err)
	}
	return int(v), dirty, nil
}
