// Package app wires configuration to a store backend for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"servicedesk/internal/auth"
	"servicedesk/internal/config"
	"servicedesk/internal/logging"
	"servicedesk/internal/migrations"
	"servicedesk/internal/models"
	"servicedesk/internal/store"
	"servicedesk/internal/store/postgres"
	"servicedesk/internal/store/sqlite"
)

type Backend struct {
	Store  store.Store
	Seeder store.Seeder
	close  func()
}

func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// OpenBackend connects the store named by cfg.StoreDriver. Postgres runs the
// embedded migrations first when AutoMigrate is set; sqlite always creates
// its schema.
func OpenBackend(ctx context.Context, cfg config.Config, logger *logging.Logger) (*Backend, error) {
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DB_DSN is required for the postgres store")
		}
		if cfg.AutoMigrate {
			if err := migrateUp(cfg.DatabaseURL); err != nil {
				return nil, err
			}
			logger.Info("store", "migrations applied")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		st := postgres.NewStore(pool)
		return &Backend{Store: st, Seeder: st, close: pool.Close}, nil
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: st, Seeder: st, close: func() { _ = st.Close() }}, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func migrateUp(dsn string) error {
	runner, err := migrations.Open(dsn)
	if err != nil {
		return err
	}
	defer runner.Close()
	return runner.Up()
}

// DefaultServices matches the rows seeded by the postgres migrations.
func DefaultServices() []models.Service {
	return []models.Service{
		{ServiceID: "6f1f7a52-4a8e-4f0e-9a3b-2f1d7c0b0001", Code: "GEN", Name: "General enquiries", Active: true},
		{ServiceID: "6f1f7a52-4a8e-4f0e-9a3b-2f1d7c0b0002", Code: "SUP", Name: "Technical support", Active: true},
	}
}

// Bootstrap seeds the default services and, when credentials are configured,
// a supervisor account.
func Bootstrap(ctx context.Context, seeder store.Seeder, cfg config.Config, logger *logging.Logger) error {
	for _, service := range DefaultServices() {
		if err := seeder.UpsertService(ctx, service); err != nil {
			return fmt.Errorf("seed service %s: %w", service.Code, err)
		}
	}
	if cfg.BootstrapEmail == "" || cfg.BootstrapPassword == "" {
		return nil
	}
	hash, err := auth.HashPassword(cfg.BootstrapPassword)
	if err != nil {
		return err
	}
	err = seeder.UpsertUser(ctx, models.User{
		Email:        cfg.BootstrapEmail,
		Name:         "Supervisor",
		RoleName:     string(auth.RoleSupervisor),
		PasswordHash: hash,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("seed supervisor: %w", err)
	}
	logger.Infof("store", "supervisor %s ready", cfg.BootstrapEmail)
	return nil
}
