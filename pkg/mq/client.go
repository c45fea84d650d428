// Package mq provides a RabbitMQ client with automatic reconnection and
// per-message acknowledgment, used both by the consumer pipeline and the
// synthetic generator.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"citysense.dev/pipeline/pkg/metrics"
)

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	// Exponential backoff bounds for Push retries.
	initialBackoff    = 100 * time.Millisecond
	maxBackoff        = 10 * time.Second
	backoffMultiplier = 2

	// Maximum number of Push retry attempts before giving up.
	maxRetryAttempts = 5

	// Undelivered messages expire from the queue after this long.
	queueMessageTTL = 24 * time.Hour

	// One unacknowledged message per worker: readings from the same device
	// are processed in delivery order.
	prefetchCount = 1
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errShutdown           = errors.New("client is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
)

// Client is a RabbitMQ client bound to one queue. It manages the connection
// lifecycle and provides publish (with confirms) and consume operations.
type Client struct {
	m               *sync.Mutex
	logger          *slog.Logger
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan bool
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queueName       string
	isReady         bool
	metrics         *metrics.MQMetrics // Optional metrics
}

// New creates a new client bound to queueName and starts connecting to addr
// in the background.
func New(queueName, addr string, l *slog.Logger) *Client {
	client := Client{
		m:         &sync.Mutex{},
		logger:    l.With("queue", queueName),
		queueName: queueName,
		done:      make(chan bool),
	}
	go client.handleReconnect(addr)
	return &client
}

// SetMetrics sets the metrics collector for this client.
// This should be called before the client starts processing messages.
func (client *Client) SetMetrics(m *metrics.MQMetrics) {
	client.metrics = m
}

// handleReconnect waits for a connection error and then continuously
// attempts to reconnect.
func (client *Client) handleReconnect(addr string) {
	for {
		client.setReady(false)
		client.logger.Info("attempting to connect")

		if client.metrics != nil {
			client.metrics.ReconnectAttempts.Inc()
		}

		conn, err := client.connect(addr)
		if err != nil {
			client.logger.Error("failed to connect, retrying", "error", err)

			select {
			case <-client.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := client.handleReInit(conn); done {
			break
		}
	}
}

// connect creates a new AMQP connection.
func (client *Client) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		if client.metrics != nil {
			client.metrics.ConnectionStatus.Set(0)
		}
		return nil, err
	}

	client.connection = conn
	client.notifyConnClose = make(chan *amqp.Error, 1)
	client.connection.NotifyClose(client.notifyConnClose)

	client.logger.Info("connected")
	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(1)
	}
	return conn, nil
}

// handleReInit waits for a channel error and then continuously attempts to
// re-initialize the channel.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.setReady(false)

		if err := client.init(conn); err != nil {
			client.logger.Error("failed to initialize channel, retrying", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.logger.Info("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.logger.Info("connection closed, reconnecting")
			return false
		case <-client.notifyChanClose:
			client.logger.Info("channel closed, re-running init")
		}
	}
}

// init initializes the channel and declares the queue. Queues are durable
// with a bounded message TTL so that a stopped consumer does not accumulate
// stale telemetry forever.
func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}

	_, err = ch.QueueDeclare(
		client.queueName,
		true,  // Durable
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		amqp.Table{
			"x-message-ttl": int32(queueMessageTTL / time.Millisecond),
		},
	)
	if err != nil {
		return err
	}

	client.channel = ch
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	client.channel.NotifyClose(client.notifyChanClose)
	client.channel.NotifyPublish(client.notifyConfirm)

	client.setReady(true)
	client.logger.Info("client init done")
	return nil
}

func (client *Client) setReady(ready bool) {
	client.m.Lock()
	client.isReady = ready
	client.m.Unlock()
}

func (client *Client) ready() bool {
	client.m.Lock()
	defer client.m.Unlock()
	return client.isReady
}

// Push publishes data onto the queue and waits for a broker confirmation.
// It retries with exponential backoff while the client reconnects, and
// returns errMaxRetriesExceeded after maxRetryAttempts failed attempts.
func (client *Client) Push(ctx context.Context, data []byte) error {
	var timer *prometheus.Timer
	if client.metrics != nil {
		timer = prometheus.NewTimer(client.metrics.PushDuration.WithLabelValues(client.queueName))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	for retryCount := 0; ; retryCount++ {
		if retryCount >= maxRetryAttempts {
			client.logger.Error("maximum retry attempts exceeded", "max_attempts", maxRetryAttempts)
			if client.metrics != nil {
				client.metrics.PushFailures.WithLabelValues(client.queueName, "max_retries_exceeded").Inc()
			}
			return errMaxRetriesExceeded
		}

		if !client.ready() {
			client.logger.Info("not connected, waiting for reconnection",
				"backoff", backoff,
				"retry_count", retryCount)
			if err := client.wait(ctx, &backoff); err != nil {
				return err
			}
			continue
		}

		if err := client.UnsafePush(ctx, data); err != nil {
			client.logger.Error("push failed, retrying with backoff",
				"error", err,
				"retry_count", retryCount)
			if err := client.wait(ctx, &backoff); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			if client.metrics != nil {
				client.metrics.PushFailures.WithLabelValues(client.queueName, "context_canceled").Inc()
			}
			return ctx.Err()
		case confirm := <-client.notifyConfirm:
			if confirm.Ack {
				if client.metrics != nil {
					client.metrics.MessagesPushed.WithLabelValues(client.queueName).Inc()
				}
				client.logger.Debug("push confirmed",
					"delivery_tag", confirm.DeliveryTag,
					"retry_count", retryCount)
				return nil
			}
			client.logger.Warn("push not acknowledged, retrying", "delivery_tag", confirm.DeliveryTag)
			if err := client.wait(ctx, &backoff); err != nil {
				return err
			}
		}
	}
}

// wait sleeps for the current backoff, doubling it up to maxBackoff, unless
// the context is canceled or the client shuts down first.
func (client *Client) wait(ctx context.Context, backoff *time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-client.done:
		return errShutdown
	case <-time.After(*backoff):
		*backoff *= backoffMultiplier
		if *backoff > maxBackoff {
			*backoff = maxBackoff
		}
		return nil
	}
}

// UnsafePush publishes to the queue without waiting for a confirmation.
// It returns an error if the client is not connected.
func (client *Client) UnsafePush(ctx context.Context, data []byte) error {
	if !client.ready() {
		return errNotConnected
	}

	return client.channel.PublishWithContext(
		ctx,
		"",               // Exchange
		client.queueName, // Routing key
		false,            // Mandatory
		false,            // Immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         data,
		},
	)
}

// Consume continuously puts queue items on the returned channel. Callers
// must Ack each delivery after successful processing, or Nack it on failure.
// Ignoring this will cause data to build up on the server.
func (client *Client) Consume() (<-chan amqp.Delivery, error) {
	if !client.ready() {
		return nil, errNotConnected
	}

	if err := client.channel.Qos(
		prefetchCount,
		0,     // prefetchSize
		false, // global
	); err != nil {
		return nil, err
	}

	return client.channel.Consume(
		client.queueName,
		"",    // Consumer
		false, // Auto-Ack
		false, // Exclusive
		false, // No-local
		false, // No-Wait
		nil,   // Args
	)
}

// Close cleanly shuts down the channel and connection. Closing a client that
// never reached ready still stops its reconnect loop.
func (client *Client) Close() error {
	client.m.Lock()
	defer client.m.Unlock()

	select {
	case <-client.done:
		return errAlreadyClosed
	default:
	}
	close(client.done)

	if !client.isReady {
		return errNotConnected
	}

	if err := client.channel.Close(); err != nil {
		return err
	}
	if err := client.connection.Close(); err != nil {
		return err
	}
	client.isReady = false

	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(0)
	}
	return nil
}
