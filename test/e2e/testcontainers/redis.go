package testcontainers

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

const (
	redisImage = "redis:7-alpine"
	redisPort  = nat.Port("6379/tcp")
)

// RedisConfig configures the Redis test container.
type RedisConfig struct {
	ContainerName string
}

// StartRedis starts a Redis container and returns it together with its
// host:port address.
func StartRedis(ctx context.Context, config *RedisConfig) (testcontainers.Container, string, error) {
	var cfg RedisConfig
	if config != nil {
		cfg = *config
	}

	container, err := run(ctx, "Redis", testcontainers.ContainerRequest{
		Image:        redisImage,
		ExposedPorts: []string{string(redisPort)},
		WaitingFor:   readyAfter(redisPort, "Ready to accept connections"),
		Name:         cfg.ContainerName,
	})
	if err != nil {
		return nil, "", err
	}

	host, port, err := endpoint(ctx, container, redisPort)
	if err != nil {
		return nil, "", err
	}

	addr := fmt.Sprintf("%s:%s", host, port.Port())
	return container, addr, nil
}
