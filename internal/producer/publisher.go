// Package producer publishes synthetic sensor telemetry to the per-kind
// queues. It stands in for the CSV-driven batcher in local and demo
// environments.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"citysense.dev/pipeline/internal/sensor"
	"citysense.dev/pipeline/pkg/generator"
	"citysense.dev/pipeline/pkg/mq"
)

const defaultInterval = 2 * time.Second

// Publisher generates readings for a simulated fleet and pushes them to the
// sensor queues.
type Publisher struct {
	logger   *slog.Logger
	clients  map[sensor.Kind]mq.ClientInterface
	fleet    []*generator.Device
	interval time.Duration
}

// PublisherConfig holds the configuration for the Publisher.
type PublisherConfig struct {
	Logger *slog.Logger
	// Clients maps each sensor kind to the queue client it publishes on.
	Clients map[sensor.Kind]mq.ClientInterface
	// DevicesPerKind is how many simulated devices to run per sensor kind.
	DevicesPerKind int
	// Interval between readings; defaults to defaultInterval.
	Interval time.Duration
}

// NewPublisher creates a Publisher with a simulated fleet.
func NewPublisher(cfg *PublisherConfig) (*Publisher, error) {
	if cfg == nil {
		return nil, errors.New("publisher config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if len(cfg.Clients) == 0 {
		return nil, errors.New("at least one queue client is required")
	}
	if cfg.DevicesPerKind <= 0 {
		return nil, errors.New("devices per kind must be positive")
	}

	var fleet []*generator.Device
	for kind := range cfg.Clients {
		if !kind.Valid() {
			return nil, fmt.Errorf("unknown sensor kind %q", kind)
		}
		for range cfg.DevicesPerKind {
			device := generator.NewDevice(kind)
			if device == nil {
				return nil, errors.New("failed to generate device")
			}
			fleet = append(fleet, device)
		}
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Publisher{
		logger:   cfg.Logger,
		clients:  cfg.Clients,
		fleet:    fleet,
		interval: interval,
	}, nil
}

// Run publishes readings until the context is canceled.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("publisher started",
		"devices", len(p.fleet),
		"interval", p.interval,
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("publisher stopped")
			return nil
		case t := <-ticker.C:
			if err := p.publishOne(ctx, t); err != nil {
				p.logger.Error("failed to publish reading", "error", err)
			}
		}
	}
}

// publishOne emits a reading from a randomly chosen device.
// Note: uses math/rand for device selection, acceptable for simulation.
func (p *Publisher) publishOne(ctx context.Context, t time.Time) error {
	device := p.fleet[rand.Intn(len(p.fleet))] // #nosec G404 - simulation

	body, err := device.NextEnvelope(t)
	if err != nil {
		return fmt.Errorf("generate envelope: %w", err)
	}

	client, ok := p.clients[device.Kind]
	if !ok {
		return fmt.Errorf("no queue client for sensor kind %q", device.Kind)
	}

	if err := client.Push(ctx, body); err != nil {
		return fmt.Errorf("push to %s queue: %w", device.Kind, err)
	}

	p.logger.Debug("reading published", "device", device.Name, "sensor_type", device.Kind)
	return nil
}
