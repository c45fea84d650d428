package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientInterface defines the interface for message queue operations.
// This interface enables easier testing through dependency injection.
type ClientInterface interface {
	// Push will push data onto the queue and wait for a confirmation.
	// The context is used for cancellation and timeout.
	Push(ctx context.Context, data []byte) error

	// UnsafePush will push to the queue without checking for confirmation.
	UnsafePush(ctx context.Context, data []byte) error

	// Consume will continuously put queue items on the channel. Callers
	// must Ack each delivery after successful processing, or Nack on failure.
	Consume() (<-chan amqp.Delivery, error)

	// Close will cleanly shut down the channel and connection.
	Close() error
}

// Ensure Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)
