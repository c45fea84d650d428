package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"citysense.dev/pipeline/internal/producer"
	"citysense.dev/pipeline/internal/sensor"
	"citysense.dev/pipeline/pkg/mq"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run the data generator",
	Long: `Run the data generator that:
- Simulates a fleet of air, sound and water sensors
- Generates readings with realistic daily patterns and occasional anomalies
- Publishes each reading to its sensor-type queue on RabbitMQ`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	// Generator-specific flags
	generateCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	generateCmd.Flags().String("air-queue", "sensor.air", "RabbitMQ queue name for air quality readings")
	generateCmd.Flags().String("sound-queue", "sensor.sound", "RabbitMQ queue name for sound level readings")
	generateCmd.Flags().String("water-queue", "sensor.water", "RabbitMQ queue name for water level readings")
	generateCmd.Flags().Int("devices-per-kind", 5, "Number of simulated devices per sensor kind")
	generateCmd.Flags().Duration("interval", 2*time.Second, "Interval between published readings")

	// Bind flags to viper
	_ = viper.BindPFlag("generator.rabbitmq.url", generateCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("generator.rabbitmq.air_queue", generateCmd.Flags().Lookup("air-queue"))
	_ = viper.BindPFlag("generator.rabbitmq.sound_queue", generateCmd.Flags().Lookup("sound-queue"))
	_ = viper.BindPFlag("generator.rabbitmq.water_queue", generateCmd.Flags().Lookup("water-queue"))
	_ = viper.BindPFlag("generator.devices_per_kind", generateCmd.Flags().Lookup("devices-per-kind"))
	_ = viper.BindPFlag("generator.interval", generateCmd.Flags().Lookup("interval"))
}

func runGenerate(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting generator service")

	rabbitURL := viper.GetString("generator.rabbitmq.url")
	queues := map[sensor.Kind]string{
		sensor.KindAir:   viper.GetString("generator.rabbitmq.air_queue"),
		sensor.KindSound: viper.GetString("generator.rabbitmq.sound_queue"),
		sensor.KindWater: viper.GetString("generator.rabbitmq.water_queue"),
	}

	clients := make(map[sensor.Kind]mq.ClientInterface, len(queues))
	for kind, queueName := range queues {
		clients[kind] = mq.New(queueName, rabbitURL, logger)
	}
	defer func() {
		for _, client := range clients {
			if err := client.Close(); err != nil {
				logger.Error("failed to close queue client", "error", err)
			}
		}
	}()

	publisher, err := producer.NewPublisher(&producer.PublisherConfig{
		Logger:         logger,
		Clients:        clients,
		DevicesPerKind: viper.GetInt("generator.devices_per_kind"),
		Interval:       viper.GetDuration("generator.interval"),
	})
	if err != nil {
		logger.Error("failed to create publisher", "error", err)
		return err
	}

	logger.Info("generator configuration",
		"rabbitmq_url", rabbitURL,
		"air_queue", queues[sensor.KindAir],
		"sound_queue", queues[sensor.KindSound],
		"water_queue", queues[sensor.KindWater],
		"devices_per_kind", viper.GetInt("generator.devices_per_kind"),
		"interval", viper.GetDuration("generator.interval"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Wait for MQ clients to be ready
	time.Sleep(2 * time.Second)

	if err := publisher.Run(ctx); err != nil {
		logger.Error("publisher error", "error", err)
		return err
	}

	logger.Info("generator stopped")
	return nil
}
