package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"citysense.dev/pipeline/internal/alert"
	"citysense.dev/pipeline/internal/sensor"
)

// errAlreadyApplied aborts the transaction when the message's deduplication
// identifier has been seen before. The rollback discards the device upsert
// too, which is safe: the first delivery already applied it.
var errAlreadyApplied = errors.New("message already applied")

// Store persists readings, device state and alert transitions.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New creates a Store.
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Store{db: db, logger: logger}, nil
}

// Result reports what one message's persistence actually changed.
type Result struct {
	// Applied is false when the message was a redelivery of an
	// already-processed message; nothing was written.
	Applied bool
	// IntegrityWarning is set when the reading's sensor kind disagreed with
	// the device's stored type; the reading was stored flagged suspect.
	IntegrityWarning bool
	MeasurementID    uint
	// Opened holds the alert rows created by this message.
	Opened []Alert
	// ResolvedTypes lists the alert types this message resolved.
	ResolvedTypes []string
}

// Persist commits the reading, the device upsert and every alert transition
// as one transaction: the measurement row and its alert transitions succeed
// or fail together. A duplicate deduplication identifier makes the whole
// message a no-op reported as success.
func (s *Store) Persist(ctx context.Context, r *sensor.Reading, cls sensor.Classification, out alert.Outcome) (*Result, error) {
	res := &Result{Applied: true}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		mismatch, err := s.upsertDevice(tx, r)
		if err != nil {
			return fmt.Errorf("device upsert: %w", err)
		}
		if mismatch {
			res.IntegrityWarning = true
			r.Suspect()
		}

		id, err := insertMeasurement(tx, r, cls)
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errAlreadyApplied
			}
			return fmt.Errorf("insert measurement: %w", err)
		}
		res.MeasurementID = id

		if err := s.applyAlertTransitions(tx, r, id, out, res); err != nil {
			return fmt.Errorf("alert transitions: %w", err)
		}
		return nil
	})

	if errors.Is(err, errAlreadyApplied) {
		s.logger.Info("duplicate message skipped",
			"message_id", r.MessageID,
			"device", r.DeviceName,
		)
		return &Result{Applied: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// upsertDevice inserts the device on first sight and otherwise advances
// last_seen, battery and coordinates, but only for readings newer than the
// stored last_seen so that out-of-order redelivery never regresses liveness.
// It reports (but does not fail on) a sensor-type mismatch.
func (s *Store) upsertDevice(tx *gorm.DB, r *sensor.Reading) (mismatch bool, err error) {
	var device Device
	err = tx.Where("device_name = ?", r.DeviceName).First(&device).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		device = Device{
			DeviceName:   r.DeviceName,
			SensorType:   string(r.Kind),
			Latitude:     r.Latitude,
			Longitude:    r.Longitude,
			LastSeen:     r.Timestamp,
			IsActive:     true,
			BatteryLevel: r.Battery,
		}
		if createErr := tx.Create(&device).Error; createErr != nil {
			// A concurrent worker may have created it between the read and
			// the insert; fall through to the update path.
			if !errors.Is(createErr, gorm.ErrDuplicatedKey) {
				return false, createErr
			}
			if err = tx.Where("device_name = ?", r.DeviceName).First(&device).Error; err != nil {
				return false, err
			}
		} else {
			s.logger.Info("new device registered", "device", r.DeviceName, "sensor_type", r.Kind)
			return false, nil
		}
	} else if err != nil {
		return false, err
	}

	if device.SensorType != string(r.Kind) {
		s.logger.Warn("sensor type mismatch for device",
			"device", r.DeviceName,
			"stored_type", device.SensorType,
			"reading_type", r.Kind,
		)
		mismatch = true
	}

	if !r.Timestamp.After(device.LastSeen) {
		return mismatch, nil
	}

	updates := map[string]interface{}{
		"last_seen": r.Timestamp,
		"is_active": true,
	}
	if r.Battery != nil {
		updates["battery_level"] = *r.Battery
	}
	if r.Latitude != nil {
		updates["latitude"] = *r.Latitude
	}
	if r.Longitude != nil {
		updates["longitude"] = *r.Longitude
	}
	if err := tx.Model(&Device{}).Where("id = ?", device.ID).Updates(updates).Error; err != nil {
		return mismatch, err
	}
	return mismatch, nil
}

// insertMeasurement writes the variant row matching the reading's kind and
// returns its primary key.
func insertMeasurement(tx *gorm.DB, r *sensor.Reading, cls sensor.Classification) (uint, error) {
	switch r.Kind {
	case sensor.KindAir:
		row := AirMeasurement{
			MessageID:           r.MessageID,
			DeviceName:          r.DeviceName,
			Timestamp:           r.Timestamp,
			Latitude:            r.Latitude,
			Longitude:           r.Longitude,
			CO2:                 r.Air.CO2,
			Temperature:         r.Air.Temperature,
			Humidity:            r.Air.Humidity,
			Pressure:            r.Air.Pressure,
			Battery:             r.Battery,
			RSSI:                r.RSSI,
			DataQuality:         string(r.Quality),
			AirQualityCategory:  cls.AirQuality,
			TemperatureCategory: cls.Temperature,
		}
		if err := tx.Create(&row).Error; err != nil {
			return 0, err
		}
		return row.ID, nil

	case sensor.KindSound:
		row := SoundMeasurement{
			MessageID:     r.MessageID,
			DeviceName:    r.DeviceName,
			Timestamp:     r.Timestamp,
			Latitude:      r.Latitude,
			Longitude:     r.Longitude,
			LAeq:          r.Sound.LAeq,
			LAI:           r.Sound.LAI,
			LAIMax:        r.Sound.LAIMax,
			Battery:       r.Battery,
			Status:        r.Sound.Status,
			DataQuality:   string(r.Quality),
			NoiseCategory: cls.Noise,
		}
		if err := tx.Create(&row).Error; err != nil {
			return 0, err
		}
		return row.ID, nil

	case sensor.KindWater:
		row := WaterMeasurement{
			MessageID:   r.MessageID,
			DeviceName:  r.DeviceName,
			Timestamp:   r.Timestamp,
			Latitude:    r.Latitude,
			Longitude:   r.Longitude,
			WaterLevel:  r.Water.WaterLevel,
			Distance:    r.Water.Distance,
			Battery:     r.Battery,
			Status:      r.Water.Status,
			Code:        r.Water.Code,
			DataQuality: string(r.Quality),
			TankStatus:  cls.Tank,
		}
		if err := tx.Create(&row).Error; err != nil {
			return 0, err
		}
		return row.ID, nil
	}

	return 0, fmt.Errorf("unsupported sensor kind %q", r.Kind)
}

// applyAlertTransitions runs the none/resolved→open and open→resolved
// transitions for one message. The open-alert lookup is resolved against the
// store each time rather than cached in process memory, so concurrent
// workers never diverge on stale state.
func (s *Store) applyAlertTransitions(tx *gorm.DB, r *sensor.Reading, measurementID uint, out alert.Outcome, res *Result) error {
	for _, v := range out.Violations {
		var existing Alert
		err := tx.Where("device_name = ? AND alert_type = ? AND is_resolved = ?", r.DeviceName, v.Type, false).
			First(&existing).Error
		if err == nil {
			// Still open from an earlier reading; steady state, no write.
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		value := v.Value
		threshold := v.Threshold
		row := Alert{
			DeviceName:      r.DeviceName,
			SensorType:      string(r.Kind),
			AlertType:       v.Type,
			Message:         v.Message,
			Value:           &value,
			Threshold:       &threshold,
			Severity:        string(v.Severity),
			MeasurementKind: string(r.Kind),
			MeasurementID:   measurementID,
			Timestamp:       r.Timestamp,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		res.Opened = append(res.Opened, row)
		s.logger.Warn("alert opened",
			"device", r.DeviceName,
			"alert_type", v.Type,
			"severity", v.Severity,
			"value", v.Value,
		)
	}

	for _, alertType := range out.Cleared {
		now := time.Now().UTC()
		result := tx.Model(&Alert{}).
			Where("device_name = ? AND alert_type = ? AND is_resolved = ?", r.DeviceName, alertType, false).
			Updates(map[string]interface{}{"is_resolved": true, "resolved_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			res.ResolvedTypes = append(res.ResolvedTypes, alertType)
			s.logger.Info("alert resolved", "device", r.DeviceName, "alert_type", alertType)
		}
	}

	return nil
}
