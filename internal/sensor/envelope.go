package sensor

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Physical range bounds, mirroring the relational schema's CHECK constraints.
// A value outside its range is nulled and the reading downgraded to suspect,
// never silently passed through.
const (
	CO2Min         = 300.0  // ppm
	CO2Max         = 5000.0 // ppm
	TemperatureMin = -10.0  // °C
	TemperatureMax = 50.0   // °C
	HumidityMin    = 0.0    // %
	HumidityMax    = 100.0  // %
	PressureMin    = 500.0  // hPa
	PressureMax    = 1100.0 // hPa
	LAeqMin        = 30.0   // dB
	LAeqMax        = 120.0  // dB
	WaterLevelMin  = 0.0    // %
	WaterLevelMax  = 100.0  // %
	BatteryMin     = 0.0    // %
	BatteryMax     = 100.0  // %
)

// MaxFutureDrift is how far ahead of the consumer clock a timestamp may be
// before the message is rejected as BadTimestamp.
const MaxFutureDrift = 24 * time.Hour

// Envelope is the wire format published by the producer: a routing header
// plus the sensor-type-specific payload.
type Envelope struct {
	MessageID  string          `json:"message_id"`
	SensorType string          `json:"sensor_type"`
	ProducedAt string          `json:"produced_at,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// rawPayload covers the union of all three payload shapes; the kind selected
// by the inbound queue decides which fields are read.
type rawPayload struct {
	DeviceName string   `json:"device_name"`
	Timestamp  string   `json:"timestamp"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Battery    *float64 `json:"battery,omitempty"`
	RSSI       *float64 `json:"rssi,omitempty"`

	CO2         *float64 `json:"co2,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Pressure    *float64 `json:"pressure,omitempty"`

	LAeq   *float64 `json:"laeq,omitempty"`
	LAI    *float64 `json:"lai,omitempty"`
	LAIMax *float64 `json:"laimax,omitempty"`

	WaterLevel *float64 `json:"water_level,omitempty"`
	Distance   *float64 `json:"distance,omitempty"`

	Status string `json:"status,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Decode deserializes one queued message body into a validated Reading for
// the kind implied by the inbound queue. It returns a *ValidationError when
// the message must be acknowledged and dropped.
func Decode(kind Kind, body []byte, now time.Time) (*Reading, error) {
	if !kind.Valid() {
		return nil, &ValidationError{Reason: MalformedPayload, Detail: "unknown sensor kind"}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ValidationError{Reason: MalformedPayload, Detail: err.Error()}
	}
	if env.SensorType != "" && env.SensorType != string(kind) {
		return nil, &ValidationError{
			Reason: MalformedPayload,
			Field:  "sensor_type",
			Detail: "payload sensor type does not match inbound queue",
		}
	}
	if len(env.Data) == 0 {
		return nil, &ValidationError{Reason: MalformedPayload, Field: "data", Detail: "empty payload"}
	}

	var raw rawPayload
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		return nil, &ValidationError{Reason: MalformedPayload, Field: "data", Detail: err.Error()}
	}

	if raw.DeviceName == "" {
		return nil, &ValidationError{Reason: MissingField, Field: "device_name", Detail: "required"}
	}
	if raw.Timestamp == "" {
		return nil, &ValidationError{Reason: MissingField, Field: "timestamp", Detail: "required"}
	}

	ts, err := time.Parse(time.RFC3339, raw.Timestamp)
	if err != nil {
		return nil, &ValidationError{Reason: BadTimestamp, Field: "timestamp", Detail: err.Error()}
	}
	ts = ts.UTC()
	if ts.After(now.Add(MaxFutureDrift)) {
		return nil, &ValidationError{Reason: BadTimestamp, Field: "timestamp", Detail: "timestamp in the far future"}
	}

	r := &Reading{
		Kind:       kind,
		MessageID:  env.MessageID,
		DeviceName: raw.DeviceName,
		Timestamp:  ts,
		Quality:    QualityGood,
	}

	// A producer that omits the deduplication identifier gets a synthetic
	// one; the reading is kept but can no longer be deduplicated, so it is
	// flagged suspect.
	if r.MessageID == "" {
		r.MessageID = uuid.NewString()
		r.Suspect()
	}

	r.Latitude, r.Longitude = validateGeo(r, raw.Latitude, raw.Longitude)
	r.Battery = checkRange(r, raw.Battery, BatteryMin, BatteryMax)
	r.RSSI = raw.RSSI

	switch kind {
	case KindAir:
		r.Air = decodeAir(r, &raw)
	case KindSound:
		r.Sound = decodeSound(r, &raw)
	case KindWater:
		r.Water = decodeWater(r, &raw)
	}

	if !r.hasUsableData() {
		return nil, &ValidationError{Reason: NoUsableData, Detail: "all core measurement fields absent or out of range"}
	}

	return r, nil
}

func decodeAir(r *Reading, raw *rawPayload) *AirPayload {
	return &AirPayload{
		CO2:         checkRange(r, raw.CO2, CO2Min, CO2Max),
		Temperature: checkRange(r, raw.Temperature, TemperatureMin, TemperatureMax),
		Humidity:    checkRange(r, raw.Humidity, HumidityMin, HumidityMax),
		Pressure:    checkRange(r, raw.Pressure, PressureMin, PressureMax),
	}
}

func decodeSound(r *Reading, raw *rawPayload) *SoundPayload {
	p := &SoundPayload{
		LAeq:   checkRange(r, raw.LAeq, LAeqMin, LAeqMax),
		LAI:    raw.LAI,
		LAIMax: raw.LAIMax,
		Status: raw.Status,
	}
	// The A-weighted impulse level is an acceptable stand-in when the
	// equivalent level is missing, at degraded quality.
	if p.LAeq == nil && p.LAI != nil && inRange(*p.LAI, LAeqMin, LAeqMax) {
		v := *p.LAI
		p.LAeq = &v
		r.Suspect()
	}
	return p
}

func decodeWater(r *Reading, raw *rawPayload) *WaterPayload {
	p := &WaterPayload{
		WaterLevel: checkRange(r, raw.WaterLevel, WaterLevelMin, WaterLevelMax),
		Distance:   raw.Distance,
		Status:     raw.Status,
		Code:       raw.Code,
	}
	// Ultrasonic sensors sometimes report only the distance to the surface;
	// derive the fill level from it (0 cm = full, 100 cm = empty).
	if p.WaterLevel == nil && p.Distance != nil {
		level := 100 - *p.Distance
		if level < WaterLevelMin {
			level = WaterLevelMin
		}
		if level > WaterLevelMax {
			level = WaterLevelMax
		}
		p.WaterLevel = &level
		r.Suspect()
	}
	return p
}

// hasUsableData reports whether at least one core measurement survived
// validation for the reading's variant.
func (r *Reading) hasUsableData() bool {
	switch r.Kind {
	case KindAir:
		return r.Air.CO2 != nil || r.Air.Temperature != nil || r.Air.Humidity != nil || r.Air.Pressure != nil
	case KindSound:
		return r.Sound.LAeq != nil
	case KindWater:
		return r.Water.WaterLevel != nil
	}
	return false
}

// checkRange nulls an out-of-range value and downgrades the reading.
func checkRange(r *Reading, v *float64, min, max float64) *float64 {
	if v == nil {
		return nil
	}
	if !inRange(*v, min, max) {
		r.Suspect()
		return nil
	}
	return v
}

func validateGeo(r *Reading, lat, lon *float64) (*float64, *float64) {
	if lat != nil && (*lat < -90 || *lat > 90) {
		r.Suspect()
		lat = nil
	}
	if lon != nil && (*lon < -180 || *lon > 180) {
		r.Suspect()
		lon = nil
	}
	return lat, lon
}

func inRange(v, min, max float64) bool {
	return v >= min && v <= max
}
