package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"servicedesk/internal/auth"
	"servicedesk/internal/config"
	"servicedesk/internal/logging"
	"servicedesk/internal/store/sqlite"
)

func TestBootstrapSeedsSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{
		StoreDriver:       "sqlite",
		SQLitePath:        sqlite.MemoryDSN(t.Name()),
		BootstrapEmail:    "Lead@Example.com",
		BootstrapPassword: "correct horse battery",
	}
	backend, err := OpenBackend(ctx, cfg, logging.Nop())
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, Bootstrap(ctx, backend.Seeder, cfg, logging.Nop()))
	// Running twice must not fail.
	require.NoError(t, Bootstrap(ctx, backend.Seeder, cfg, logging.Nop()))

	services, err := backend.Store.ListServices(ctx)
	require.NoError(t, err)
	require.Len(t, services, len(DefaultServices()))

	user, err := backend.Store.GetUserByEmail(ctx, "lead@example.com")
	require.NoError(t, err)
	require.Equal(t, string(auth.RoleSupervisor), user.RoleName)
	require.True(t, auth.CheckPassword(user.PasswordHash, "correct horse battery"))
}

func TestOpenBackendRejectsUnknownDriver(t *testing.T) {
	_, err := OpenBackend(context.Background(), config.Config{StoreDriver: "mysql"}, logging.Nop())
	require.Error(t, err)

	_, err = OpenBackend(context.Background(), config.Config{StoreDriver: "postgres"}, logging.Nop())
	require.ErrorContains(t, err, "DB_DSN")
}
