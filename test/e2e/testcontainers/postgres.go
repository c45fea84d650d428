package testcontainers

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresPort  = nat.Port("5432/tcp")

	defaultPostgresUser     = "postgres"
	defaultPostgresPassword = "postgres"
	defaultPostgresDatabase = "telemetry"
)

// PostgresConfig configures the PostgreSQL test container. Zero-value fields
// fall back to the defaults above.
type PostgresConfig struct {
	User          string
	Password      string
	Database      string
	ContainerName string
}

func (c *PostgresConfig) withDefaults() PostgresConfig {
	var cfg PostgresConfig
	if c != nil {
		cfg = *c
	}
	if cfg.User == "" {
		cfg.User = defaultPostgresUser
	}
	if cfg.Password == "" {
		cfg.Password = defaultPostgresPassword
	}
	if cfg.Database == "" {
		cfg.Database = defaultPostgresDatabase
	}
	return cfg
}

// StartPostgres starts a PostgreSQL container and returns it together with a
// ready-to-use DSN.
func StartPostgres(ctx context.Context, config *PostgresConfig) (testcontainers.Container, string, error) {
	cfg := config.withDefaults()

	container, err := run(ctx, "PostgreSQL", testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{string(postgresPort)},
		WaitingFor:   readyAfter(postgresPort, "database system is ready to accept connections"),
		Env: map[string]string{
			"POSTGRES_USER":     cfg.User,
			"POSTGRES_PASSWORD": cfg.Password,
			"POSTGRES_DB":       cfg.Database,
		},
		Name: cfg.ContainerName,
	})
	if err != nil {
		return nil, "", err
	}

	host, port, err := endpoint(ctx, container, postgresPort)
	if err != nil {
		return nil, "", err
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port.Port(), cfg.User, cfg.Password, cfg.Database)
	return container, dsn, nil
}

// GetPostgresConnectionInfo returns the discrete connection parameters of a
// running PostgreSQL container for callers that build their own DSN.
func GetPostgresConnectionInfo(ctx context.Context, container testcontainers.Container, config *PostgresConfig) (host string, port int, user, password, database string, err error) {
	cfg := config.withDefaults()

	host, err = container.Host(ctx)
	if err != nil {
		return "", 0, "", "", "", fmt.Errorf("failed to get host: %w", err)
	}

	mapped, err := container.MappedPort(ctx, postgresPort)
	if err != nil {
		return "", 0, "", "", "", fmt.Errorf("failed to get port: %w", err)
	}

	return host, mapped.Int(), cfg.User, cfg.Password, cfg.Database, nil
}
