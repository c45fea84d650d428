// Package cache mirrors current device state, bounded reading history and
// dashboard aggregates into Redis. Every projection here is derived and
// disposable: the relational store stays the source of truth, and failures
// are logged by the caller without blocking acknowledgment.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"citysense.dev/pipeline/internal/sensor"
	"citysense.dev/pipeline/internal/store"
)

// Retention policy for the derived projections.
const (
	// DeviceSnapshotTTL doubles as the device liveness window: a device
	// whose snapshot has expired is considered offline by the dashboards.
	DeviceSnapshotTTL = 30 * 24 * time.Hour
	// AlertTTL bounds how long a latest-alert projection stays readable.
	AlertTTL = time.Hour
	// HistoryDepth is the bounded per-device history length.
	HistoryDepth = 50
)

// Key builders for the stable key contract external dashboards depend on.

// DeviceKey returns the current-snapshot key for a device.
func DeviceKey(device string) string {
	return "device:" + device
}

// HistoryKey returns the bounded-history key for a (sensor, device) pair.
func HistoryKey(kind sensor.Kind, device string) string {
	return fmt.Sprintf("history:%s:%s", kind, device)
}

// ActiveDevicesKey returns the active-device set key for a sensor kind.
func ActiveDevicesKey(kind sensor.Kind) string {
	return "active_devices:" + string(kind)
}

// DashboardKey returns the dashboard aggregate key for a sensor kind.
func DashboardKey(kind sensor.Kind) string {
	return "dashboard:" + string(kind)
}

// AlertKey returns the latest-alert key for a (device, alert type) pair.
func AlertKey(device, alertType string) string {
	return fmt.Sprintf("alert:%s:%s:latest", device, alertType)
}

// NewClient creates a Redis client.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Writer maintains the cache projections for processed readings.
type Writer struct {
	client       *redis.Client
	logger       *slog.Logger
	snapshotTTL  time.Duration
	alertTTL     time.Duration
	historyDepth int64
}

// WriterConfig holds the configuration for the Writer.
type WriterConfig struct {
	Client *redis.Client
	Logger *slog.Logger
	// SnapshotTTL overrides DeviceSnapshotTTL when positive.
	SnapshotTTL time.Duration
	// AlertTTL overrides the default alert retention when positive.
	AlertTTL time.Duration
	// HistoryDepth overrides HistoryDepth when positive.
	HistoryDepth int64
}

// NewWriter creates a Writer.
func NewWriter(cfg *WriterConfig) (*Writer, error) {
	if cfg == nil {
		return nil, errors.New("writer config cannot be nil")
	}
	if cfg.Client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	w := &Writer{
		client:       cfg.Client,
		logger:       cfg.Logger,
		snapshotTTL:  DeviceSnapshotTTL,
		alertTTL:     AlertTTL,
		historyDepth: HistoryDepth,
	}
	if cfg.SnapshotTTL > 0 {
		w.snapshotTTL = cfg.SnapshotTTL
	}
	if cfg.AlertTTL > 0 {
		w.alertTTL = cfg.AlertTTL
	}
	if cfg.HistoryDepth > 0 {
		w.historyDepth = cfg.HistoryDepth
	}
	return w, nil
}

// WriteReading mirrors one processed reading: device snapshot, bounded
// history, active-set membership and the dashboard aggregate.
func (w *Writer) WriteReading(ctx context.Context, r *sensor.Reading, cls sensor.Classification) error {
	fields := snapshotFields(r, cls)

	deviceKey := DeviceKey(r.DeviceName)
	if err := w.client.HSet(ctx, deviceKey, fields).Err(); err != nil {
		return fmt.Errorf("device snapshot: %w", err)
	}
	if err := w.client.Expire(ctx, deviceKey, w.snapshotTTL).Err(); err != nil {
		return fmt.Errorf("device snapshot expiry: %w", err)
	}

	entry, err := json.Marshal(historyEntry{
		Timestamp: r.Timestamp.Format(time.RFC3339),
		Data:      fields,
	})
	if err != nil {
		return fmt.Errorf("history entry: %w", err)
	}
	historyKey := HistoryKey(r.Kind, r.DeviceName)
	if err := w.client.LPush(ctx, historyKey, entry).Err(); err != nil {
		return fmt.Errorf("history push: %w", err)
	}
	if err := w.client.LTrim(ctx, historyKey, 0, w.historyDepth-1).Err(); err != nil {
		return fmt.Errorf("history trim: %w", err)
	}

	activeKey := ActiveDevicesKey(r.Kind)
	if err := w.client.SAdd(ctx, activeKey, r.DeviceName).Err(); err != nil {
		return fmt.Errorf("active set: %w", err)
	}
	if err := w.client.Expire(ctx, activeKey, w.snapshotTTL).Err(); err != nil {
		return fmt.Errorf("active set expiry: %w", err)
	}

	if r.Kind == sensor.KindAir && r.Air.CO2 != nil {
		err := w.client.ZAdd(ctx, DashboardKey(sensor.KindAir), &redis.Z{
			Score:  *r.Air.CO2,
			Member: r.DeviceName,
		}).Err()
		if err != nil {
			return fmt.Errorf("dashboard aggregate: %w", err)
		}
	}

	w.logger.Debug("cache updated", "device", r.DeviceName, "sensor_type", r.Kind)
	return nil
}

// WriteAlert overwrites the latest-alert projection for the alert's
// (device, type) pair.
func (w *Writer) WriteAlert(ctx context.Context, a *store.Alert) error {
	key := AlertKey(a.DeviceName, a.AlertType)
	fields := map[string]interface{}{
		"message":   a.Message,
		"severity":  a.Severity,
		"timestamp": a.Timestamp.Format(time.RFC3339),
		"resolved":  "false",
	}
	if a.Value != nil {
		fields["value"] = formatFloat(*a.Value)
	}
	if err := w.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("alert projection: %w", err)
	}
	if err := w.client.Expire(ctx, key, w.alertTTL).Err(); err != nil {
		return fmt.Errorf("alert projection expiry: %w", err)
	}
	return nil
}

// MarkAlertResolved flags the latest-alert projection as resolved. The key
// is marked rather than deleted so dashboards can show the resolution.
func (w *Writer) MarkAlertResolved(ctx context.Context, device, alertType string) error {
	key := AlertKey(device, alertType)
	fields := map[string]interface{}{
		"resolved":    "true",
		"resolved_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := w.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("alert resolution: %w", err)
	}
	return nil
}

type historyEntry struct {
	Timestamp string            `json:"timestamp"`
	Data      map[string]string `json:"data"`
}

// snapshotFields flattens a reading into the hash fields of the device
// snapshot. Absent measurements are omitted rather than written empty.
func snapshotFields(r *sensor.Reading, cls sensor.Classification) map[string]string {
	fields := map[string]string{
		"sensor_type": string(r.Kind),
		"last_update": r.Timestamp.Format(time.RFC3339),
		"status":      "online",
	}
	putFloat(fields, "latitude", r.Latitude)
	putFloat(fields, "longitude", r.Longitude)
	putFloat(fields, "battery", r.Battery)

	switch r.Kind {
	case sensor.KindAir:
		putFloat(fields, "co2", r.Air.CO2)
		putFloat(fields, "temperature", r.Air.Temperature)
		putFloat(fields, "humidity", r.Air.Humidity)
		putFloat(fields, "pressure", r.Air.Pressure)
		fields["air_quality"] = cls.AirQuality
		fields["temperature_category"] = cls.Temperature
	case sensor.KindSound:
		putFloat(fields, "laeq", r.Sound.LAeq)
		putFloat(fields, "lai", r.Sound.LAI)
		putFloat(fields, "laimax", r.Sound.LAIMax)
		fields["noise_category"] = cls.Noise
	case sensor.KindWater:
		putFloat(fields, "water_level", r.Water.WaterLevel)
		putFloat(fields, "distance", r.Water.Distance)
		fields["tank_status"] = cls.Tank
	}
	return fields
}

func putFloat(fields map[string]string, key string, v *float64) {
	if v != nil {
		fields[key] = formatFloat(*v)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
