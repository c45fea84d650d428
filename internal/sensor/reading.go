// Package sensor defines the validated sensor reading model shared by the
// pipeline stages: envelope decoding, physical-range validation and the
// derived classification labels.
package sensor

import "time"

// Kind identifies one of the three supported sensor families.
type Kind string

const (
	KindAir   Kind = "air"
	KindSound Kind = "sound"
	KindWater Kind = "water"
)

// Kinds returns all supported sensor kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindAir, KindSound, KindWater}
}

// Valid reports whether k is a supported sensor kind.
func (k Kind) Valid() bool {
	return k == KindAir || k == KindSound || k == KindWater
}

// Quality is the data-quality tag carried on every reading.
type Quality string

const (
	QualityGood    Quality = "good"
	QualitySuspect Quality = "suspect"
)

// Reading is a validated sensor reading. It is a tagged union: exactly one
// of Air, Sound or Water is non-nil, selected by Kind.
type Reading struct {
	Kind       Kind
	MessageID  string
	DeviceName string
	Timestamp  time.Time
	Latitude   *float64
	Longitude  *float64
	Battery    *float64
	RSSI       *float64
	Quality    Quality

	Air   *AirPayload
	Sound *SoundPayload
	Water *WaterPayload
}

// AirPayload holds the air-quality measurements. Fields are nil when absent
// or nulled by range validation.
type AirPayload struct {
	CO2         *float64 // ppm
	Temperature *float64 // °C
	Humidity    *float64 // %
	Pressure    *float64 // hPa
}

// SoundPayload holds the sound-level measurements.
type SoundPayload struct {
	LAeq   *float64 // dB
	LAI    *float64 // dB
	LAIMax *float64 // dB
	Status string
}

// WaterPayload holds the water-level measurements.
type WaterPayload struct {
	WaterLevel *float64 // %
	Distance   *float64 // cm
	Status     string
	Code       string
}

// Suspect downgrades the reading's data quality. Once suspect, a reading
// never recovers to good.
func (r *Reading) Suspect() {
	r.Quality = QualitySuspect
}
