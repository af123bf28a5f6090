package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator applies the versioned kv schema (000001_init.up.sql and friends).
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator binds db to the migrations compiled into the binary, or to the
// files under dir when dir is non-empty (MIGRATIONS_DIR).
func NewMigrator(db *sql.DB, dir string) (*Migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres migrate driver: %w", err)
	}
	var m *migrate.Migrate
	if dir != "" {
		abs, aerr := filepath.Abs(dir)
		if aerr != nil {
			return nil, fmt.Errorf("migrations dir %s: %w", dir, aerr)
		}
		m, err = migrate.NewWithDatabaseInstance("file://"+abs, "postgres", driver)
	} else {
		src, serr := iofs.New(migrationFiles, "migrations")
		if serr != nil {
			return nil, fmt.Errorf("embedded migrations: %w", serr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies every pending migration. Running it on an up-to-date schema is a no-op.
func (g *Migrator) Up() error {
	log := slog.With(slog.String("component", "db_migrate"))
	if err := g.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("kv schema is up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	v, dirty, err := g.Version()
	if err != nil {
		log.Warn("could not read schema version", slog.Any("err", err))
		return nil
	}
	if dirty {
		return fmt.Errorf("schema dirty at version %d; fix schema_migrations by hand", v)
	}
	log.Info("kv schema migrated", slog.Uint64("version", uint64(v)))
	return nil
}

// Down rolls back one migration. Rolling back the init migration drops the
// wheel, the dedup sets and the stored owner credential.
func (g *Migrator) Down() error {
	if err := g.m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("roll back migration: %w", err)
	}
	return nil
}

// Version returns the applied version; 0 means nothing is applied.
func (g *Migrator) Version() (uint, bool, error) {
	v, dirty, err := g.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("schema version: %w", err)
	}
	return v, dirty, nil
}

// RunMigrations brings db up to the latest schema.
func RunMigrations(db *sql.DB, dir string) error {
	g, err := NewMigrator(db, dir)
	if err != nil {
		return err
	}
	return g.Up()
}
