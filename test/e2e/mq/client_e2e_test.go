// Package mq provides end-to-end tests for the RabbitMQ client against a
// real broker.
package mq

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	clientmq "citysense.dev/pipeline/pkg/mq"
)

var _ = Describe("MQ Client E2E", func() {
	var (
		client    *clientmq.Client
		queueName string
		ctx       context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		// Unique queue name per test so redeliveries cannot leak across specs.
		queueName = "sensor.e2e." + time.Now().Format("20060102-150405.000")
	})

	AfterEach(func() {
		if client != nil {
			_ = client.Close()
			client = nil
		}
	})

	Describe("Connection", func() {
		It("should connect to RabbitMQ successfully", func() {
			client = clientmq.New(queueName, rabbitmqURL, testLogger)
			Expect(client).NotTo(BeNil())

			// Give client time to connect
			time.Sleep(1 * time.Second)
		})

		It("should handle an unreachable broker gracefully", func() {
			invalidClient := clientmq.New(queueName, "amqp://invalid:5672", testLogger)
			Expect(invalidClient).NotTo(BeNil())

			// Should not crash, keeps retrying in the background
			time.Sleep(500 * time.Millisecond)

			_ = invalidClient.Close()
		})
	})

	Describe("Publishing", func() {
		BeforeEach(func() {
			client = clientmq.New(queueName, rabbitmqURL, testLogger)
			time.Sleep(2 * time.Second) // Wait for connection
		})

		It("should publish a message with confirmation", func() {
			err := client.Push(ctx, []byte(`{"sensor_type":"air"}`))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should publish multiple messages successfully", func() {
			for i := 0; i < 10; i++ {
				err := client.Push(ctx, []byte("telemetry payload"))
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("should publish large messages successfully", func() {
			largeMessage := make([]byte, 1024*1024)
			for i := range largeMessage {
				largeMessage[i] = byte(i % 256)
			}

			err := client.Push(ctx, largeMessage)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should use UnsafePush without waiting for confirmation", func() {
			err := client.UnsafePush(ctx, []byte("unconfirmed payload"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should respect the context deadline while publishing", func() {
			expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
			defer cancel()

			err := client.Push(expired, []byte("too late"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Consuming", func() {
		BeforeEach(func() {
			client = clientmq.New(queueName, rabbitmqURL, testLogger)
			time.Sleep(2 * time.Second) // Wait for connection
		})

		It("should deliver a published message", func() {
			// Start consuming first, then publish.
			deliveries, err := client.Consume()
			Expect(err).NotTo(HaveOccurred())
			Expect(deliveries).NotTo(BeNil())

			// Wait for the consumer to register on the server
			time.Sleep(500 * time.Millisecond)

			envelope := map[string]string{
				"message_id":  "mq-e2e-1",
				"sensor_type": "air",
			}
			body, err := json.Marshal(envelope)
			Expect(err).NotTo(HaveOccurred())
			Expect(client.Push(ctx, body)).To(Succeed())

			select {
			case delivery := <-deliveries:
				Expect(delivery.Body).To(Equal(body))
				Expect(delivery.Ack(false)).To(Succeed())
			case <-time.After(5 * time.Second):
				Fail("Did not receive message within timeout")
			}
		})

		It("should deliver messages in publish order under prefetch 1", func() {
			deliveries, err := client.Consume()
			Expect(err).NotTo(HaveOccurred())

			time.Sleep(500 * time.Millisecond)

			messages := []string{"first", "second", "third"}
			for _, msg := range messages {
				Expect(client.Push(ctx, []byte(msg))).To(Succeed())
			}

			// Each delivery must be acked before the next one arrives.
			received := make([]string, 0, len(messages))
			for i := 0; i < len(messages); i++ {
				select {
				case delivery := <-deliveries:
					received = append(received, string(delivery.Body))
					Expect(delivery.Ack(false)).To(Succeed())
				case <-time.After(5 * time.Second):
					Fail("Did not receive all messages within timeout")
				}
			}

			Expect(received).To(Equal(messages))
		})

		It("should redeliver a nacked message", func() {
			deliveries, err := client.Consume()
			Expect(err).NotTo(HaveOccurred())

			time.Sleep(500 * time.Millisecond)

			Expect(client.Push(ctx, []byte("transient failure"))).To(Succeed())

			select {
			case delivery := <-deliveries:
				Expect(delivery.Nack(false, true)).To(Succeed())
			case <-time.After(5 * time.Second):
				Fail("Did not receive message within timeout")
			}

			select {
			case delivery := <-deliveries:
				Expect(string(delivery.Body)).To(Equal("transient failure"))
				Expect(delivery.Ack(false)).To(Succeed())
			case <-time.After(5 * time.Second):
				Fail("Nacked message was not redelivered")
			}
		})
	})

	Describe("Error Handling", func() {
		It("should fail fast on operations before connection", func() {
			client = clientmq.New(queueName, rabbitmqURL, testLogger)
			// Don't wait for the connection

			err := client.UnsafePush(ctx, []byte("test"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Resource Cleanup", func() {
		It("should close client cleanly", func() {
			client = clientmq.New(queueName, rabbitmqURL, testLogger)
			time.Sleep(2 * time.Second)

			Expect(client.Close()).To(Succeed())

			client = nil // Prevent double close in AfterEach
		})

		It("should error on close of an unconnected client", func() {
			client = clientmq.New(queueName, "amqp://invalid:5672", testLogger)
			time.Sleep(500 * time.Millisecond)

			Expect(client.Close()).To(HaveOccurred())

			client = nil
		})

		It("should error on double close", func() {
			client = clientmq.New(queueName, rabbitmqURL, testLogger)
			time.Sleep(2 * time.Second)

			Expect(client.Close()).To(Succeed())
			Expect(client.Close()).To(HaveOccurred())

			client = nil
		})
	})

	Describe("Message Properties", func() {
		BeforeEach(func() {
			client = clientmq.New(queueName, rabbitmqURL, testLogger)
			time.Sleep(2 * time.Second)
		})

		It("should preserve binary payloads exactly", func() {
			deliveries, err := client.Consume()
			Expect(err).NotTo(HaveOccurred())

			time.Sleep(500 * time.Millisecond)

			binaryData := []byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD}
			Expect(client.Push(ctx, binaryData)).To(Succeed())

			select {
			case delivery := <-deliveries:
				Expect(delivery.Body).To(Equal(binaryData))
				Expect(delivery.Ack(false)).To(Succeed())
			case <-time.After(5 * time.Second):
				Fail("Did not receive message within timeout")
			}
		})

		It("should handle empty messages", func() {
			deliveries, err := client.Consume()
			Expect(err).NotTo(HaveOccurred())

			time.Sleep(500 * time.Millisecond)

			Expect(client.Push(ctx, []byte{})).To(Succeed())

			select {
			case delivery := <-deliveries:
				Expect(delivery.Body).To(HaveLen(0))
				Expect(delivery.Ack(false)).To(Succeed())
			case <-time.After(5 * time.Second):
				Fail("Did not receive message within timeout")
			}
		})
	})
})
