// Package testcontainers starts the PostgreSQL, RabbitMQ and Redis containers
// the end-to-end suites run against.
package testcontainers

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// run starts a container from the request and blocks until its wait strategy
// reports readiness.
func run(ctx context.Context, service string, req testcontainers.ContainerRequest) (testcontainers.Container, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s container: %w", service, err)
	}
	return container, nil
}

// endpoint resolves the host-reachable address of a container's mapped port.
// On failure the container is terminated so a broken startup never leaks a
// running container.
func endpoint(ctx context.Context, container testcontainers.Container, port nat.Port) (string, nat.Port, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", "", terminate(ctx, container, fmt.Errorf("failed to get container host: %w", err))
	}

	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		return "", "", terminate(ctx, container, fmt.Errorf("failed to get container port: %w", err))
	}

	return host, mapped, nil
}

func terminate(ctx context.Context, container testcontainers.Container, err error) error {
	if termErr := container.Terminate(ctx); termErr != nil {
		return fmt.Errorf("%w (cleanup error: %w)", err, termErr)
	}
	return err
}

// readyAfter combines the listening-port check with a log-line match. The
// images used here open their port before the server accepts logins, so the
// log line is the authoritative signal.
func readyAfter(port nat.Port, logLine string) wait.Strategy {
	return wait.ForAll(
		wait.ForListeningPort(port),
		wait.ForLog(logLine),
	)
}
