// Package bootstrap opens the configured store backend and secret sealer. It
// is shared by the service entrypoint and the operator CLIs.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/cadegiameos/Reaper-Gift-Wheel/config"
	"github.com/cadegiameos/Reaper-Gift-Wheel/crypto"
	"github.com/cadegiameos/Reaper-Gift-Wheel/db"
	"github.com/cadegiameos/Reaper-Gift-Wheel/redisstore"
	"github.com/cadegiameos/Reaper-Gift-Wheel/store"
)

// Backend is an opened store.
type Backend struct {
	Store store.Store
	Name  string

	close   func() error
	janitor func(ctx context.Context)
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// StartJanitor starts background expiry cleanup when the backend needs one.
func (b *Backend) StartJanitor(ctx context.Context) {
	if b.janitor != nil {
		b.janitor(ctx)
	}
}

// PingAttempts bounds the startup connectivity retry.
var PingAttempts uint = 10

// OpenStore connects to cfg.StoreBackend, waits for it to answer and, for
// Postgres, applies migrations.
func OpenStore(ctx context.Context, cfg *config.Config) (*Backend, error) {
	var b *Backend
	switch cfg.StoreBackend {
	case config.BackendMemory:
		slog.Warn("using in-memory store; entries and credentials are lost on restart", slog.String("component", "store"))
		b = &Backend{Store: store.NewMemory()}
	case config.BackendRedis:
		rs, err := redisstore.NewFromURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b = &Backend{Store: rs, close: rs.Close}
	case config.BackendPostgres, "":
		database, err := db.Connect(cfg.DBDsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		ps := db.New(database)
		interval := cfg.JanitorInterval
		b = &Backend{
			Store:   ps,
			close:   database.Close,
			janitor: func(ctx context.Context) { ps.StartJanitor(ctx, interval) },
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	b.Name = cfg.StoreBackend
	if b.Name == "" {
		b.Name = config.BackendPostgres
	}

	if err := waitForStore(ctx, b.Store, b.Name); err != nil {
		_ = b.Close()
		return nil, err
	}

	if ps, ok := b.Store.(*db.Store); ok {
		if err := migrate(ctx, ps, cfg.MigrationsDir); err != nil {
			_ = b.Close()
			return nil, err
		}
	}
	slog.Info("store ready", slog.String("backend", b.Name), slog.String("component", "store"))
	return b, nil
}

func waitForStore(ctx context.Context, s store.Store, name string) error {
	err := retry.Do(
		func() error {
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			return s.Ping(pctx)
		},
		retry.Attempts(PingAttempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("store not reachable yet", slog.String("backend", name), slog.Uint64("attempt", uint64(n)), slog.Any("err", err))
		}),
	)
	if err != nil {
		return fmt.Errorf("%s store unreachable: %w", name, err)
	}
	return nil
}

// migrate runs the versioned migrations and falls back to db.Migrate's
// idempotent DDL when golang-migrate cannot run (a dirty or foreign
// schema_migrations table, a bad MIGRATIONS_DIR).
func migrate(ctx context.Context, ps *db.Store, dir string) error {
	if err := db.RunMigrations(ps.DB, dir); err != nil {
		slog.Warn("versioned migrations failed, applying embedded schema",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, ps.DB); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		return nil
	}
	slog.Info("versioned migrations completed", slog.String("component", "db_migrate"))
	return nil
}

// Sealer returns the AES sealer for ENCRYPTION_KEY, or plaintext storage when
// no key is configured.
func Sealer(cfg *config.Config) (crypto.Sealer, error) {
	if cfg.EncryptionKey == "" {
		slog.Warn("ENCRYPTION_KEY not set; the owner refresh credential is stored unencrypted", slog.String("component", "crypto"))
		return crypto.Plain{}, nil
	}
	s, err := crypto.NewAESSealer(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return s, nil
}
