package testcontainers

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

const (
	rabbitImage          = "rabbitmq:3-management-alpine"
	rabbitPort           = nat.Port("5672/tcp")
	rabbitManagementPort = nat.Port("15672/tcp")

	defaultRabbitUser     = "guest"
	defaultRabbitPassword = "guest"
)

// RabbitMQConfig configures the RabbitMQ test container. Empty credentials
// fall back to guest/guest.
type RabbitMQConfig struct {
	User          string
	Password      string
	ContainerName string
}

func (c *RabbitMQConfig) withDefaults() RabbitMQConfig {
	var cfg RabbitMQConfig
	if c != nil {
		cfg = *c
	}
	if cfg.User == "" {
		cfg.User = defaultRabbitUser
	}
	if cfg.Password == "" {
		cfg.Password = defaultRabbitPassword
	}
	return cfg
}

// StartRabbitMQ starts a RabbitMQ container and returns it together with an
// AMQP connection URL.
func StartRabbitMQ(ctx context.Context, config *RabbitMQConfig) (testcontainers.Container, string, error) {
	cfg := config.withDefaults()

	container, err := run(ctx, "RabbitMQ", testcontainers.ContainerRequest{
		Image:        rabbitImage,
		ExposedPorts: []string{string(rabbitPort), string(rabbitManagementPort)},
		WaitingFor:   readyAfter(rabbitPort, "Server startup complete"),
		Env: map[string]string{
			"RABBITMQ_DEFAULT_USER": cfg.User,
			"RABBITMQ_DEFAULT_PASS": cfg.Password,
		},
		Name: cfg.ContainerName,
	})
	if err != nil {
		return nil, "", err
	}

	host, port, err := endpoint(ctx, container, rabbitPort)
	if err != nil {
		return nil, "", err
	}

	url := fmt.Sprintf("amqp://%s:%s@%s:%s/", cfg.User, cfg.Password, host, port.Port())
	return container, url, nil
}
