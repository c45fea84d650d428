package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"citysense.dev/pipeline/internal/alert"
	"citysense.dev/pipeline/internal/sensor"
	"citysense.dev/pipeline/internal/store"
	"citysense.dev/pipeline/pkg/metrics"
)

// Persister commits one validated reading and its alert transitions.
type Persister interface {
	Persist(ctx context.Context, r *sensor.Reading, cls sensor.Classification, out alert.Outcome) (*store.Result, error)
}

// CacheWriter mirrors processed state into the key-value cache.
type CacheWriter interface {
	WriteReading(ctx context.Context, r *sensor.Reading, cls sensor.Classification) error
	WriteAlert(ctx context.Context, a *store.Alert) error
	MarkAlertResolved(ctx context.Context, device, alertType string) error
}

// AlertNotifier forwards newly opened alerts to an external endpoint.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, a *store.Alert) error
}

// Source delivers queued messages for one sensor-type queue.
type Source interface {
	Consume() (<-chan amqp.Delivery, error)
	Close() error
}

// Redelivery pacing for persistence failures. With prefetch 1 an immediate
// nack spins the same message straight back, so the wait doubles with the
// failure streak while the failure budget counts down.
const (
	persistBackoffBase = 100 * time.Millisecond
	persistBackoffMax  = 5 * time.Second
)

// Worker consumes one sensor-type queue and runs each message through
// validation, classification, alert evaluation, persistence and the cache
// mirror, acknowledging only after persistence has succeeded.
type Worker struct {
	kind      sensor.Kind
	queueName string
	logger    *slog.Logger
	source    Source
	persister Persister
	cache     CacheWriter
	notifier  AlertNotifier // optional
	metrics   *metrics.PipelineMetrics
	health    *Health
	done      chan struct{}
}

// WorkerConfig holds the configuration for a Worker.
type WorkerConfig struct {
	Logger    *slog.Logger
	Kind      sensor.Kind
	QueueName string
	Source    Source
	Persister Persister
	Cache     CacheWriter
	// Notifier is optional; nil disables alert forwarding.
	Notifier AlertNotifier
	// Metrics is optional.
	Metrics *metrics.PipelineMetrics
	Health  *Health
}

// NewWorker creates a Worker.
func NewWorker(cfg *WorkerConfig) (*Worker, error) {
	if cfg == nil {
		return nil, errors.New("worker config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if !cfg.Kind.Valid() {
		return nil, errors.New("sensor kind is not valid")
	}
	if cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if cfg.Source == nil {
		return nil, errors.New("source cannot be nil")
	}
	if cfg.Persister == nil {
		return nil, errors.New("persister cannot be nil")
	}
	if cfg.Cache == nil {
		return nil, errors.New("cache writer cannot be nil")
	}
	if cfg.Health == nil {
		return nil, errors.New("health tracker cannot be nil")
	}

	return &Worker{
		kind:      cfg.Kind,
		queueName: cfg.QueueName,
		logger:    cfg.Logger.With("queue", cfg.QueueName),
		source:    cfg.Source,
		persister: cfg.Persister,
		cache:     cfg.Cache,
		notifier:  cfg.Notifier,
		metrics:   cfg.Metrics,
		health:    cfg.Health,
		done:      make(chan struct{}),
	}, nil
}

// Start begins consuming the queue.
func (w *Worker) Start(ctx context.Context) error {
	deliveries, err := w.source.Consume()
	if err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.ActiveWorkers.Inc()
	}
	w.logger.Info("worker started, waiting for messages")

	go w.processDeliveries(ctx, deliveries)
	return nil
}

// processDeliveries drains the deliveries channel until shutdown. An
// in-flight message always finishes before the worker exits.
func (w *Worker) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer func() {
		if w.metrics != nil {
			w.metrics.ActiveWorkers.Dec()
		}
		close(w.done)
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("context canceled, stopping message processing")
			return
		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("deliveries channel closed")
				return
			}
			w.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery processes a single message delivery. Acknowledgment rules:
// validation failures are acked (retrying cannot fix them), persistence
// failures are nacked for redelivery, cache and notification failures never
// block the ack.
func (w *Worker) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	start := time.Now()
	defer func() {
		if w.metrics != nil {
			w.metrics.ProcessingDuration.WithLabelValues(w.queueName).Observe(time.Since(start).Seconds())
		}
	}()

	reading, err := sensor.Decode(w.kind, delivery.Body, time.Now().UTC())
	if err != nil {
		w.dropInvalid(delivery, err)
		return
	}

	cls := sensor.Classify(reading)
	outcome := alert.Evaluate(reading)

	persistStart := time.Now()
	res, err := w.persister.Persist(ctx, reading, cls, outcome)
	if w.metrics != nil {
		w.metrics.PersistDuration.WithLabelValues(w.queueName).Observe(time.Since(persistStart).Seconds())
	}
	if err != nil {
		w.logger.Error("failed to persist reading",
			"device", reading.DeviceName,
			"message_id", reading.MessageID,
			"error", err,
		)
		w.health.RecordFailure()
		w.count("retried")
		// Leave the message for redelivery; dedup makes the retry safe. The
		// wait ahead of the nack keeps a dead store from spinning the same
		// message through the queue at full speed.
		w.waitBeforeRetry(ctx)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			w.logger.Error("failed to nack message", "error", nackErr)
		}
		return
	}
	w.health.RecordSuccess()

	if !res.Applied {
		if w.metrics != nil {
			w.metrics.DuplicatesSkipped.WithLabelValues(w.queueName).Inc()
		}
		w.count("duplicate")
		w.ack(delivery)
		return
	}

	if res.IntegrityWarning && w.metrics != nil {
		w.metrics.IntegrityWarnings.WithLabelValues(w.queueName).Inc()
	}

	w.mirror(ctx, reading, cls, res)

	w.ack(delivery)
	w.count("processed")
	w.logger.Debug("reading processed",
		"device", reading.DeviceName,
		"message_id", reading.MessageID,
		"alerts_opened", len(res.Opened),
		"alerts_resolved", len(res.ResolvedTypes),
	)
}

// waitBeforeRetry pauses before a failed message is handed back for
// redelivery, doubling with the persistence failure streak up to
// persistBackoffMax. Shutdown skips the wait, never the nack.
func (w *Worker) waitBeforeRetry(ctx context.Context) {
	delay := persistBackoffBase
	for i := w.health.Streak(); i > 1 && delay < persistBackoffMax; i-- {
		delay *= 2
	}
	if delay > persistBackoffMax {
		delay = persistBackoffMax
	}

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// dropInvalid acknowledges a message that can never become valid and records
// the failure for observability.
func (w *Worker) dropInvalid(delivery amqp.Delivery, err error) {
	reason := "unknown"
	if verr, ok := sensor.AsValidationError(err); ok {
		reason = string(verr.Reason)
	}
	w.logger.Warn("dropping invalid message", "reason", reason, "error", err)
	if w.metrics != nil {
		w.metrics.ValidationFailures.WithLabelValues(w.queueName, reason).Inc()
	}
	w.count("dropped")
	w.ack(delivery)
}

// mirror performs the best-effort cache and notification writes. Failures
// here are logged and counted, never propagated.
func (w *Worker) mirror(ctx context.Context, reading *sensor.Reading, cls sensor.Classification, res *store.Result) {
	if err := w.cache.WriteReading(ctx, reading, cls); err != nil {
		w.logger.Warn("cache write failed", "device", reading.DeviceName, "error", err)
		w.countCacheError("reading")
	}

	for i := range res.Opened {
		opened := &res.Opened[i]
		if w.metrics != nil {
			w.metrics.AlertsOpened.WithLabelValues(opened.AlertType, opened.Severity).Inc()
		}
		if err := w.cache.WriteAlert(ctx, opened); err != nil {
			w.logger.Warn("alert cache write failed", "alert_type", opened.AlertType, "error", err)
			w.countCacheError("alert")
		}
		if w.notifier != nil {
			if err := w.notifier.NotifyAlert(ctx, opened); err != nil {
				w.logger.Warn("alert notification failed", "alert_type", opened.AlertType, "error", err)
				if w.metrics != nil {
					w.metrics.NotifyErrors.Inc()
				}
			}
		}
	}

	for _, alertType := range res.ResolvedTypes {
		if w.metrics != nil {
			w.metrics.AlertsResolved.WithLabelValues(alertType).Inc()
		}
		if err := w.cache.MarkAlertResolved(ctx, reading.DeviceName, alertType); err != nil {
			w.logger.Warn("alert resolution cache write failed", "alert_type", alertType, "error", err)
			w.countCacheError("alert_resolve")
		}
	}
}

func (w *Worker) ack(delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		w.logger.Error("failed to ack message", "error", err)
	}
}

func (w *Worker) count(status string) {
	if w.metrics != nil {
		w.metrics.MessagesTotal.WithLabelValues(w.queueName, status).Inc()
	}
}

func (w *Worker) countCacheError(operation string) {
	if w.metrics != nil {
		w.metrics.CacheErrors.WithLabelValues(operation).Inc()
	}
}

// Stop closes the worker's queue source and waits for the in-flight message
// to finish.
func (w *Worker) Stop() error {
	w.logger.Info("stopping worker")
	if err := w.source.Close(); err != nil {
		return err
	}
	<-w.done
	w.logger.Info("worker stopped")
	return nil
}
