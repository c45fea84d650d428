// Package generator produces synthetic sensor telemetry for the three
// supported sensor kinds, with realistic daily patterns and occasional
// anomalies so that downstream classification and alerting get exercised.
package generator

import (
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"citysense.dev/pipeline/internal/sensor"
)

// Device is one simulated sensor installation.
type Device struct {
	Name      string
	Kind      sensor.Kind
	Latitude  float64 `fake:"{latitude}"`
	Longitude float64 `fake:"{longitude}"`

	battery float64

	// Air baselines
	baselineCO2  float64
	baselineTemp float64

	// Sound baseline
	baselineLAeq float64

	// Water state (random walk, slowly draining)
	waterLevel float64
}

// namePrefix follows the device naming the fleet operators use, so that
// sensor kind is recoverable from the name alone.
func namePrefix(kind sensor.Kind) string {
	switch kind {
	case sensor.KindAir:
		return "ems-co2"
	case sensor.KindSound:
		return "sls-noise"
	default:
		return "uds-level"
	}
}

// NewDevice creates a simulated device of the given kind.
// Note: uses math/rand throughout; weak randomness is acceptable for
// simulation data.
func NewDevice(kind sensor.Kind) *Device {
	var device Device
	if err := gofakeit.Struct(&device); err != nil {
		return nil
	}

	device.Name = gofakeit.Regex(namePrefix(kind) + `-[0-9]{4}`)
	device.Kind = kind
	device.battery = 60 + rand.Float64()*40 // #nosec G404 - simulation data
	device.baselineCO2 = 420 + rand.Float64()*200
	device.baselineTemp = 18 + rand.Float64()*8
	device.baselineLAeq = 45 + rand.Float64()*15
	device.waterLevel = 40 + rand.Float64()*55

	return &device
}

// NextEnvelope generates the next reading for the device at time t, wrapped
// in the wire envelope the consumer expects.
func (d *Device) NextEnvelope(t time.Time) ([]byte, error) {
	data := map[string]interface{}{
		"device_name": d.Name,
		"timestamp":   t.UTC().Format(time.RFC3339),
		"latitude":    round(d.Latitude, 6),
		"longitude":   round(d.Longitude, 6),
		"battery":     round(d.nextBattery(t), 1),
		"rssi":        round(-50-rand.Float64()*40, 1),
	}

	switch d.Kind {
	case sensor.KindAir:
		temp := d.nextTemperature(t)
		data["co2"] = round(d.nextCO2(t), 1)
		data["temperature"] = round(temp, 2)
		data["humidity"] = round(d.nextHumidity(temp), 2)
		data["pressure"] = round(1013+(rand.Float64()-0.5)*30, 2)
	case sensor.KindSound:
		laeq := d.nextLAeq(t)
		data["laeq"] = round(laeq, 1)
		data["lai"] = round(laeq+rand.Float64()*3, 1)
		data["laimax"] = round(laeq+5+rand.Float64()*10, 1)
	case sensor.KindWater:
		level := d.nextWaterLevel()
		data["water_level"] = round(level, 2)
		data["distance"] = round(100-level, 2)
		data["status"] = "ok"
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return json.Marshal(sensor.Envelope{
		MessageID:  uuid.NewString(),
		SensorType: string(d.Kind),
		ProducedAt: time.Now().UTC().Format(time.RFC3339),
		Data:       payload,
	})
}

// nextCO2 follows occupancy: higher during working hours, with occasional
// ventilation-failure spikes past the alert threshold.
func (d *Device) nextCO2(t time.Time) float64 {
	hour := float64(t.Hour())
	occupancy := 200 * math.Sin((hour-7)*math.Pi/12)
	if occupancy < 0 {
		occupancy = 0
	}

	co2 := d.baselineCO2 + occupancy + (rand.Float64()-0.5)*50

	// Ventilation failure (5% chance): pushes well past 1000 ppm.
	if rand.Float64() < 0.05 {
		co2 += 500 + rand.Float64()*800
	}

	return math.Max(sensor.CO2Min, math.Min(sensor.CO2Max, co2))
}

// nextTemperature has a daily cycle peaking mid-afternoon.
func (d *Device) nextTemperature(t time.Time) float64 {
	hour := float64(t.Hour())
	dailyCycle := 5 * math.Sin((hour-6)*math.Pi/12)
	noise := (rand.Float64() - 0.5) * 2

	temp := d.baselineTemp + dailyCycle + noise
	if rand.Float64() < 0.03 {
		temp += (rand.Float64() - 0.5) * 20 // HVAC fault spike
	}
	return temp
}

// nextHumidity is inversely correlated with temperature.
func (d *Device) nextHumidity(temperature float64) float64 {
	humidity := 55 - (temperature-d.baselineTemp)*1.5 + (rand.Float64()-0.5)*5
	return math.Max(15, math.Min(95, humidity))
}

// nextLAeq follows traffic: louder in rush hours, with occasional events.
func (d *Device) nextLAeq(t time.Time) float64 {
	hour := t.Hour()
	rush := 0.0
	if (hour >= 7 && hour <= 9) || (hour >= 17 && hour <= 19) {
		rush = 10
	}
	night := 0.0
	if hour >= 22 || hour < 6 {
		night = -8
	}

	laeq := d.baselineLAeq + rush + night + (rand.Float64()-0.5)*4
	if rand.Float64() < 0.04 {
		laeq += 15 + rand.Float64()*15 // sirens, construction
	}
	return math.Max(sensor.LAeqMin, math.Min(sensor.LAeqMax, laeq))
}

// nextWaterLevel drains slowly with occasional refills.
func (d *Device) nextWaterLevel() float64 {
	d.waterLevel -= rand.Float64() * 1.5
	if d.waterLevel < 5 || rand.Float64() < 0.02 {
		d.waterLevel = 85 + rand.Float64()*15 // tank refilled
	}
	return math.Max(sensor.WaterLevelMin, math.Min(sensor.WaterLevelMax, d.waterLevel))
}

// nextBattery drains a little on every reading, over roughly a month of
// typical reporting intervals.
func (d *Device) nextBattery(_ time.Time) float64 {
	d.battery -= 0.01 + rand.Float64()*0.05
	return math.Max(1, math.Min(100, d.battery))
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
