package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultLockTimeout     = 30 * time.Second
)

// Config содержит настройки для миграций
type Config struct {
	MigrationsPath  string
	MigrationsFS    fs.FS
	MigrationsTable string
	LockTimeout     time.Duration
}

// Migrator выполняет миграции базы данных поверх пула pgx
type Migrator struct {
	config Config
	pool   *pgxpool.Pool
}

// NewMigrator создает новый экземпляр Migrator
func NewMigrator(config Config, pool *pgxpool.Pool) *Migrator {
	if config.MigrationsTable == "" {
		config.MigrationsTable = defaultMigrationsTable
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = defaultLockTimeout
	}
	return &Migrator{config: config, pool: pool}
}

// Up применяет все доступные миграции
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "apply", func(mg *migrate.Migrate) error { return mg.Up() })
}

// Down откатывает все миграции
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "rollback", func(mg *migrate.Migrate) error { return mg.Down() })
}

// ForceVersion устанавливает версию миграции принудительно (после грязной миграции)
func (m *Migrator) ForceVersion(ctx context.Context, version uint) error {
	return m.run(ctx, "force", func(mg *migrate.Migrate) error { return mg.Force(int(version)) })
}

// Version возвращает текущую версию миграции и флаг dirty
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	mg, err := m.createMigrator(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrator: %w", err)
	}
	defer mg.Close()

	version, dirty, err := mg.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

func (m *Migrator) run(ctx context.Context, op string, fn func(*migrate.Migrate) error) error {
	mg, err := m.createMigrator(ctx)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer mg.Close()

	if err := fn(mg); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Str("op", op).Msg("database schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to %s migrations: %w", op, err)
	}

	version, dirty, verr := mg.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		log.Warn().Err(verr).Str("op", op).Msg("migrations done but version is unknown")
		return nil
	}
	log.Info().Str("op", op).Uint("version", version).Bool("dirty", dirty).Msg("database migrations done")
	return nil
}

// createMigrator создает экземпляр migrate.Migrate
func (m *Migrator) createMigrator(ctx context.Context) (*migrate.Migrate, error) {
	if err := m.pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database is not reachable: %w", err)
	}

	// sql.DB поверх пула pgx. Закрывается вместе с migrate.Migrate.
	db := stdlib.OpenDBFromPool(m.pool)

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: m.config.MigrationsTable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(m.config.MigrationsFS, m.config.MigrationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	mg.LockTimeout = m.config.LockTimeout
	return mg, nil
}
