package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"

	"citysense.dev/pipeline/internal/alert"
	"citysense.dev/pipeline/internal/sensor"
	"citysense.dev/pipeline/internal/store"
)

// fakeAcknowledger records the acknowledgment decision taken for a delivery.
type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(_ uint64, _ bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

// fakePersister returns a canned result or error and records its inputs.
type fakePersister struct {
	mu       sync.Mutex
	result   *store.Result
	err      error
	calls    int
	reading  *sensor.Reading
	outcome  alert.Outcome
	classify sensor.Classification
}

func (f *fakePersister) Persist(_ context.Context, r *sensor.Reading, cls sensor.Classification, out alert.Outcome) (*store.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reading = r
	f.classify = cls
	f.outcome = out
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakePersister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeCache records cache writes and can fail them.
type fakeCache struct {
	readings  int
	alerts    []string
	resolved  []string
	failWrite error
}

func (f *fakeCache) WriteReading(_ context.Context, _ *sensor.Reading, _ sensor.Classification) error {
	f.readings++
	return f.failWrite
}

func (f *fakeCache) WriteAlert(_ context.Context, a *store.Alert) error {
	f.alerts = append(f.alerts, a.AlertType)
	return f.failWrite
}

func (f *fakeCache) MarkAlertResolved(_ context.Context, _, alertType string) error {
	f.resolved = append(f.resolved, alertType)
	return f.failWrite
}

// fakeNotifier records forwarded alerts.
type fakeNotifier struct {
	notified []string
	err      error
}

func (f *fakeNotifier) NotifyAlert(_ context.Context, a *store.Alert) error {
	f.notified = append(f.notified, a.AlertType)
	return f.err
}

// fakeSource hands out a pre-filled deliveries channel.
type fakeSource struct {
	deliveries chan amqp.Delivery
	consumeErr error
	closed     bool
}

func (f *fakeSource) Consume() (<-chan amqp.Delivery, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	return f.deliveries, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	close(f.deliveries)
	return nil
}

func airBody(messageID string, co2 float64) []byte {
	data, err := json.Marshal(map[string]interface{}{
		"device_name": "ems-co2-0001",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"co2":         co2,
		"temperature": 22.0,
		"battery":     80.0,
	})
	Expect(err).NotTo(HaveOccurred())
	body, err := json.Marshal(sensor.Envelope{
		MessageID:  messageID,
		SensorType: "air",
		Data:       data,
	})
	Expect(err).NotTo(HaveOccurred())
	return body
}

var _ = Describe("Worker", func() {
	var (
		logger    *slog.Logger
		persister *fakePersister
		cache     *fakeCache
		notifier  *fakeNotifier
		health    *Health
		worker    *Worker
		ack       *fakeAcknowledger
	)

	newDelivery := func(body []byte) amqp.Delivery {
		ack = &fakeAcknowledger{}
		return amqp.Delivery{Acknowledger: ack, Body: body}
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		persister = &fakePersister{result: &store.Result{Applied: true, MeasurementID: 1}}
		cache = &fakeCache{}
		notifier = &fakeNotifier{}
		health = NewHealth(3)

		var err error
		worker, err = NewWorker(&WorkerConfig{
			Logger:    logger,
			Kind:      sensor.KindAir,
			QueueName: "sensor.air",
			Source:    &fakeSource{deliveries: make(chan amqp.Delivery, 1)},
			Persister: persister,
			Cache:     cache,
			Notifier:  notifier,
			Health:    health,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewWorker", func() {
		It("should return error when config is nil", func() {
			w, err := NewWorker(nil)
			Expect(err).To(HaveOccurred())
			Expect(w).To(BeNil())
		})

		It("should return error when the sensor kind is invalid", func() {
			w, err := NewWorker(&WorkerConfig{
				Logger:    logger,
				Kind:      sensor.Kind("seismic"),
				QueueName: "q",
				Source:    &fakeSource{},
				Persister: persister,
				Cache:     cache,
				Health:    health,
			})
			Expect(err).To(HaveOccurred())
			Expect(w).To(BeNil())
		})

		It("should return error when the persister is nil", func() {
			w, err := NewWorker(&WorkerConfig{
				Logger:    logger,
				Kind:      sensor.KindAir,
				QueueName: "q",
				Source:    &fakeSource{},
				Cache:     cache,
				Health:    health,
			})
			Expect(err).To(HaveOccurred())
			Expect(w).To(BeNil())
		})

		It("should allow a nil notifier", func() {
			w, err := NewWorker(&WorkerConfig{
				Logger:    logger,
				Kind:      sensor.KindAir,
				QueueName: "q",
				Source:    &fakeSource{},
				Persister: persister,
				Cache:     cache,
				Health:    health,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(w).NotTo(BeNil())
		})
	})

	Describe("handleDelivery", func() {
		Context("with a valid message", func() {
			It("should persist, mirror and ack", func() {
				worker.handleDelivery(context.Background(), newDelivery(airBody("msg-1", 650)))

				Expect(persister.calls).To(Equal(1))
				Expect(persister.reading.MessageID).To(Equal("msg-1"))
				Expect(persister.classify.AirQuality).To(Equal("good"))
				Expect(cache.readings).To(Equal(1))
				Expect(ack.acked).To(BeTrue())
				Expect(ack.nacked).To(BeFalse())
			})

			It("should pass the alert outcome to the persister", func() {
				worker.handleDelivery(context.Background(), newDelivery(airBody("msg-1", 1200)))

				Expect(persister.outcome.Violations).To(HaveLen(1))
				Expect(persister.outcome.Violations[0].Type).To(Equal("high_co2"))
			})
		})

		Context("with an invalid message", func() {
			It("should ack and drop without persisting", func() {
				worker.handleDelivery(context.Background(), newDelivery([]byte("not json")))

				Expect(persister.calls).To(BeZero())
				Expect(cache.readings).To(BeZero())
				Expect(ack.acked).To(BeTrue())
				Expect(ack.nacked).To(BeFalse())
			})
		})

		Context("when persistence fails", func() {
			BeforeEach(func() {
				persister.err = errors.New("connection refused")
			})

			It("should nack with requeue and record the failure", func() {
				worker.handleDelivery(context.Background(), newDelivery(airBody("msg-1", 650)))

				Expect(ack.acked).To(BeFalse())
				Expect(ack.nacked).To(BeTrue())
				Expect(ack.requeue).To(BeTrue())
				Expect(cache.readings).To(BeZero())
				Expect(health.Exhausted()).To(BeFalse())
			})

			It("should exhaust the failure budget after consecutive failures", func() {
				for i := 0; i < 3; i++ {
					worker.handleDelivery(context.Background(), newDelivery(airBody("msg-1", 650)))
				}
				Expect(health.Exhausted()).To(BeTrue())
			})

			It("should pace redeliveries with a wait that grows with the streak", func() {
				start := time.Now()
				worker.handleDelivery(context.Background(), newDelivery(airBody("msg-1", 650)))
				afterFirst := time.Since(start)
				worker.handleDelivery(context.Background(), newDelivery(airBody("msg-1", 650)))
				afterSecond := time.Since(start)

				Expect(afterFirst).To(BeNumerically(">=", persistBackoffBase))
				Expect(afterSecond - afterFirst).To(BeNumerically(">=", 2*persistBackoffBase))
				Expect(ack.nacked).To(BeTrue())
				Expect(ack.requeue).To(BeTrue())
			})

			It("should still nack promptly when shutting down mid-wait", func() {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()

				start := time.Now()
				worker.handleDelivery(ctx, newDelivery(airBody("msg-1", 650)))

				Expect(time.Since(start)).To(BeNumerically("<", persistBackoffBase))
				Expect(ack.nacked).To(BeTrue())
				Expect(ack.requeue).To(BeTrue())
			})

			It("should reset the failure streak on success", func() {
				worker.handleDelivery(context.Background(), newDelivery(airBody("msg-1", 650)))
				worker.handleDelivery(context.Background(), newDelivery(airBody("msg-2", 650)))

				persister.err = nil
				worker.handleDelivery(context.Background(), newDelivery(airBody("msg-3", 650)))

				persister.err = errors.New("connection refused")
				worker.handleDelivery(context.Background(), newDelivery(airBody("msg-4", 650)))
				Expect(health.Exhausted()).To(BeFalse())
			})
		})

		Context("with a duplicate message", func() {
			BeforeEach(func() {
				persister.result = &store.Result{Applied: false}
			})

			It("should ack without touching the cache", func() {
				worker.handleDelivery(context.Background(), newDelivery(airBody("msg-1", 650)))

				Expect(ack.acked).To(BeTrue())
				Expect(cache.readings).To(BeZero())
				Expect(notifier.notified).To(BeEmpty())
			})
		})

		Context("with opened alerts", func() {
			BeforeEach(func() {
				persister.result = &store.Result{
					Applied:       true,
					MeasurementID: 7,
					Opened: []store.Alert{
						{DeviceName: "ems-co2-0001", AlertType: "high_co2", Severity: "medium"},
					},
				}
			})

			It("should mirror and forward each opened alert", func() {
				worker.handleDelivery(context.Background(), newDelivery(airBody("msg-1", 1200)))

				Expect(cache.alerts).To(ConsistOf("high_co2"))
				Expect(notifier.notified).To(ConsistOf("high_co2"))
				Expect(ack.acked).To(BeTrue())
			})

			It("should still ack when the notifier fails", func() {
				notifier.err = errors.New("webhook down")
				worker.handleDelivery(context.Background(), newDelivery(airBody("msg-1", 1200)))

				Expect(ack.acked).To(BeTrue())
				Expect(ack.nacked).To(BeFalse())
			})
		})

		Context("with resolved alerts", func() {
			BeforeEach(func() {
				persister.result = &store.Result{
					Applied:       true,
					MeasurementID: 7,
					ResolvedTypes: []string{"high_co2"},
				}
			})

			It("should mark the cache projection resolved", func() {
				worker.handleDelivery(context.Background(), newDelivery(airBody("msg-1", 650)))

				Expect(cache.resolved).To(ConsistOf("high_co2"))
				Expect(ack.acked).To(BeTrue())
			})
		})

		Context("when the cache fails", func() {
			BeforeEach(func() {
				cache.failWrite = errors.New("redis down")
			})

			It("should still ack the message", func() {
				worker.handleDelivery(context.Background(), newDelivery(airBody("msg-1", 650)))

				Expect(ack.acked).To(BeTrue())
				Expect(ack.nacked).To(BeFalse())
			})
		})
	})

	Describe("Start and Stop", func() {
		It("should process deliveries until the source closes", func() {
			source := &fakeSource{deliveries: make(chan amqp.Delivery, 1)}
			w, err := NewWorker(&WorkerConfig{
				Logger:    logger,
				Kind:      sensor.KindAir,
				QueueName: "sensor.air",
				Source:    source,
				Persister: persister,
				Cache:     cache,
				Health:    health,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(w.Start(context.Background())).To(Succeed())

			localAck := &fakeAcknowledger{}
			source.deliveries <- amqp.Delivery{Acknowledger: localAck, Body: airBody("msg-1", 650)}

			Eventually(persister.callCount).Should(Equal(1))
			Expect(w.Stop()).To(Succeed())
			Expect(source.closed).To(BeTrue())
		})

		It("should surface consume errors", func() {
			source := &fakeSource{consumeErr: errors.New("not connected")}
			w, err := NewWorker(&WorkerConfig{
				Logger:    logger,
				Kind:      sensor.KindAir,
				QueueName: "sensor.air",
				Source:    source,
				Persister: persister,
				Cache:     cache,
				Health:    health,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Start(context.Background())).NotTo(Succeed())
		})
	})
})
