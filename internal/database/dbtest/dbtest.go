// Package dbtest starts a throwaway PostgreSQL for integration tests.
package dbtest

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/spoton/recommendation-service/internal/config"
)

// EnvIntegration must be set to run container-backed tests.
const EnvIntegration = "SPOTON_INTEGRATION"

const (
	image    = "postgres:16-alpine"
	dbName   = "spoton"
	user     = "spoton"
	password = "spoton"
)

// Postgres starts a container and returns a config pointing at it. The test is
// skipped in -short mode or when SPOTON_INTEGRATION is unset.
func Postgres(t *testing.T) *config.DatabaseConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv(EnvIntegration) == "" {
		t.Skipf("skipping integration test: %s not set", EnvIntegration)
	}

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, image,
		postgres.WithDatabase(dbName),
		postgres.WithUsername(user),
		postgres.WithPassword(password),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	endpoint, err := ctr.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("postgres endpoint: %v", err)
	}
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		t.Fatalf("parse endpoint %q: %v", endpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port %q: %v", portStr, err)
	}

	return &config.DatabaseConfig{
		Host:              host,
		Port:              port,
		User:              user,
		Password:          password,
		Name:              dbName,
		SSLMode:           config.SSLModeDisable,
		MaxConns:          5,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   time.Minute,
		HealthCheckPeriod: time.Minute,
		ConnectTimeout:    10 * time.Second,
		MigrationPath:     MigrationsPath(t),
	}
}

// MigrationsPath returns the absolute path of the repository's migrations directory.
func MigrationsPath(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot resolve migrations path")
	}
	// internal/database/dbtest -> repository root
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
}
