package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"citysense.dev/pipeline/internal/pipeline"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run the telemetry consumer",
	Long: `Run the telemetry consumer that:
- Consumes sensor readings from the per-sensor-type RabbitMQ queues
- Validates, classifies and evaluates alert rules on each reading
- Persists readings and alerts to PostgreSQL
- Mirrors current state into Redis for dashboards
- Serves health and metrics endpoints over HTTP`,
	RunE: runConsume,
}

func init() {
	rootCmd.AddCommand(consumeCmd)

	// Consumer-specific flags
	consumeCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	consumeCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	consumeCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	consumeCmd.Flags().String("db-password", "", "PostgreSQL password")
	consumeCmd.Flags().String("db-name", "telemetry", "PostgreSQL database name")
	consumeCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	consumeCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	consumeCmd.Flags().String("air-queue", "sensor.air", "RabbitMQ queue name for air quality readings")
	consumeCmd.Flags().String("sound-queue", "sensor.sound", "RabbitMQ queue name for sound level readings")
	consumeCmd.Flags().String("water-queue", "sensor.water", "RabbitMQ queue name for water level readings")
	consumeCmd.Flags().String("redis-addr", "localhost:6379", "Redis address")
	consumeCmd.Flags().String("redis-password", "", "Redis password")
	consumeCmd.Flags().Int("redis-db", 0, "Redis database number")
	consumeCmd.Flags().String("webhook-url", "", "Alert webhook URL (empty disables forwarding)")
	consumeCmd.Flags().String("webhook-token", "", "Alert webhook bearer token")
	consumeCmd.Flags().Int("http-port", 8080, "HTTP port for health and metrics endpoints")
	consumeCmd.Flags().Int("failure-budget", pipeline.DefaultFailureBudget, "Consecutive persistence failures tolerated before reporting unhealthy")

	// Bind flags to viper
	_ = viper.BindPFlag("consumer.db.host", consumeCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("consumer.db.port", consumeCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("consumer.db.user", consumeCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("consumer.db.password", consumeCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("consumer.db.name", consumeCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("consumer.db.sslmode", consumeCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("consumer.rabbitmq.url", consumeCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("consumer.rabbitmq.air_queue", consumeCmd.Flags().Lookup("air-queue"))
	_ = viper.BindPFlag("consumer.rabbitmq.sound_queue", consumeCmd.Flags().Lookup("sound-queue"))
	_ = viper.BindPFlag("consumer.rabbitmq.water_queue", consumeCmd.Flags().Lookup("water-queue"))
	_ = viper.BindPFlag("consumer.redis.addr", consumeCmd.Flags().Lookup("redis-addr"))
	_ = viper.BindPFlag("consumer.redis.password", consumeCmd.Flags().Lookup("redis-password"))
	_ = viper.BindPFlag("consumer.redis.db", consumeCmd.Flags().Lookup("redis-db"))
	_ = viper.BindPFlag("consumer.webhook.url", consumeCmd.Flags().Lookup("webhook-url"))
	_ = viper.BindPFlag("consumer.webhook.token", consumeCmd.Flags().Lookup("webhook-token"))
	_ = viper.BindPFlag("consumer.http.port", consumeCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("consumer.failure_budget", consumeCmd.Flags().Lookup("failure-budget"))
}

func runConsume(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting consumer service")

	// Create pipeline configuration from viper
	config := &pipeline.ServerConfig{
		Logger:        logger,
		DBHost:        viper.GetString("consumer.db.host"),
		DBPort:        viper.GetInt("consumer.db.port"),
		DBUser:        viper.GetString("consumer.db.user"),
		DBPassword:    viper.GetString("consumer.db.password"),
		DBName:        viper.GetString("consumer.db.name"),
		DBSSLMode:     viper.GetString("consumer.db.sslmode"),
		RabbitMQURL:   viper.GetString("consumer.rabbitmq.url"),
		AirQueue:      viper.GetString("consumer.rabbitmq.air_queue"),
		SoundQueue:    viper.GetString("consumer.rabbitmq.sound_queue"),
		WaterQueue:    viper.GetString("consumer.rabbitmq.water_queue"),
		RedisAddr:     viper.GetString("consumer.redis.addr"),
		RedisPassword: viper.GetString("consumer.redis.password"),
		RedisDB:       viper.GetInt("consumer.redis.db"),
		WebhookURL:    viper.GetString("consumer.webhook.url"),
		WebhookToken:  viper.GetString("consumer.webhook.token"),
		HTTPPort:      viper.GetInt("consumer.http.port"),
		FailureBudget: viper.GetInt("consumer.failure_budget"),
	}

	// Create and run server
	server, err := pipeline.NewServer(config)
	if err != nil {
		logger.Error("failed to create consumer server", "error", err)
		return err
	}

	logger.Info("consumer server configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"rabbitmq_url", config.RabbitMQURL,
		"air_queue", config.AirQueue,
		"sound_queue", config.SoundQueue,
		"water_queue", config.WaterQueue,
		"redis_addr", config.RedisAddr,
		"http_port", config.HTTPPort,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("consumer server error", "error", err)
		return err
	}

	logger.Info("consumer server stopped")
	return nil
}
