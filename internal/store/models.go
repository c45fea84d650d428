// Package store owns the relational persistence of readings, devices and
// alerts: one transaction per message, idempotent device upserts and
// duplicate-message detection via the message_id uniqueness constraint.
package store

import "time"

// Device is the logical identity of a physical sensor installation. Devices
// are created implicitly on the first reading from an unseen name and are
// never hard-deleted by the pipeline.
type Device struct {
	ID               uint      `gorm:"primaryKey"`
	DeviceName       string    `gorm:"size:100;uniqueIndex;not null"`
	SensorType       string    `gorm:"size:50;not null"`
	Latitude         *float64  `gorm:"type:decimal(10,8)"`
	Longitude        *float64  `gorm:"type:decimal(11,8)"`
	Address          string    `gorm:"type:text"`
	InstallationDate time.Time `gorm:"autoCreateTime"`
	LastSeen         time.Time `gorm:"index:idx_devices_last_seen"`
	IsActive         bool      `gorm:"default:true"`
	BatteryLevel     *float64  `gorm:"type:decimal(5,2)"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Device model.
func (Device) TableName() string {
	return "devices"
}

// AirMeasurement is one stored air-quality reading.
type AirMeasurement struct {
	ID                  uint      `gorm:"primaryKey"`
	MessageID           string    `gorm:"size:64;uniqueIndex;not null"`
	DeviceName          string    `gorm:"size:100;index:idx_air_device_ts;not null"`
	Timestamp           time.Time `gorm:"index:idx_air_device_ts;index:idx_air_ts;not null"`
	Latitude            *float64  `gorm:"type:decimal(10,8)"`
	Longitude           *float64  `gorm:"type:decimal(11,8)"`
	CO2                 *float64  `gorm:"column:co2;type:decimal(6,2)"`
	Temperature         *float64  `gorm:"type:decimal(4,2)"`
	Humidity            *float64  `gorm:"type:decimal(5,2)"`
	Pressure            *float64  `gorm:"type:decimal(7,2)"`
	Battery             *float64  `gorm:"type:decimal(5,2)"`
	RSSI                *float64  `gorm:"column:rssi;type:decimal(5,2)"`
	DataQuality         string    `gorm:"size:20;default:good"`
	AirQualityCategory  string    `gorm:"size:20"`
	TemperatureCategory string    `gorm:"size:20"`
	CreatedAt           time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for the AirMeasurement model.
func (AirMeasurement) TableName() string {
	return "air_measurements"
}

// SoundMeasurement is one stored sound-level reading.
type SoundMeasurement struct {
	ID            uint      `gorm:"primaryKey"`
	MessageID     string    `gorm:"size:64;uniqueIndex;not null"`
	DeviceName    string    `gorm:"size:100;index:idx_sound_device_ts;not null"`
	Timestamp     time.Time `gorm:"index:idx_sound_device_ts;index:idx_sound_ts;not null"`
	Latitude      *float64  `gorm:"type:decimal(10,8)"`
	Longitude     *float64  `gorm:"type:decimal(11,8)"`
	LAeq          *float64  `gorm:"column:laeq;type:decimal(5,2)"`
	LAI           *float64  `gorm:"column:lai;type:decimal(5,2)"`
	LAIMax        *float64  `gorm:"column:laimax;type:decimal(5,2)"`
	Battery       *float64  `gorm:"type:decimal(5,2)"`
	Status        string    `gorm:"size:50"`
	DataQuality   string    `gorm:"size:20;default:good"`
	NoiseCategory string    `gorm:"size:20"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for the SoundMeasurement model.
func (SoundMeasurement) TableName() string {
	return "sound_measurements"
}

// WaterMeasurement is one stored water-level reading.
type WaterMeasurement struct {
	ID          uint      `gorm:"primaryKey"`
	MessageID   string    `gorm:"size:64;uniqueIndex;not null"`
	DeviceName  string    `gorm:"size:100;index:idx_water_device_ts;not null"`
	Timestamp   time.Time `gorm:"index:idx_water_device_ts;index:idx_water_ts;not null"`
	Latitude    *float64  `gorm:"type:decimal(10,8)"`
	Longitude   *float64  `gorm:"type:decimal(11,8)"`
	WaterLevel  *float64  `gorm:"type:decimal(5,2)"`
	Distance    *float64  `gorm:"type:decimal(7,2)"`
	Battery     *float64  `gorm:"type:decimal(5,2)"`
	Status      string    `gorm:"size:50"`
	Code        string    `gorm:"size:50"`
	DataQuality string    `gorm:"size:20;default:good"`
	TankStatus  string    `gorm:"size:20"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for the WaterMeasurement model.
func (WaterMeasurement) TableName() string {
	return "water_measurements"
}

// Alert records one threshold violation with an open → resolved lifecycle.
// The triggering measurement is referenced by a tagged pair
// (MeasurementKind, MeasurementID) rather than three nullable foreign keys.
type Alert struct {
	ID              uint       `gorm:"primaryKey"`
	DeviceName      string     `gorm:"size:100;index:idx_alerts_device_type;not null"`
	SensorType      string     `gorm:"size:50;not null"`
	AlertType       string     `gorm:"size:50;index:idx_alerts_device_type;not null"`
	Message         string     `gorm:"type:text;not null"`
	Value           *float64   `gorm:"type:decimal(10,2)"`
	Threshold       *float64   `gorm:"type:decimal(10,2)"`
	Severity        string     `gorm:"size:20"`
	MeasurementKind string     `gorm:"size:10;not null"`
	MeasurementID   uint       `gorm:"not null"`
	Timestamp       time.Time  `gorm:"index:idx_alerts_ts"`
	IsResolved      bool       `gorm:"default:false;index:idx_alerts_open"`
	ResolvedAt      *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for the Alert model.
func (Alert) TableName() string {
	return "alerts"
}
