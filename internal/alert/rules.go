// Package alert defines the threshold rules applied to validated readings
// and the severity tiering policy. Evaluation is pure: the open/resolved
// alert state machine is applied against the store, per message, by the
// persistence layer.
package alert

import (
	"fmt"

	"citysense.dev/pipeline/internal/sensor"
)

// Severity of a threshold violation.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Canonical alert thresholds.
const (
	CO2Threshold        = 1000.0 // ppm, above
	TemperatureHigh     = 30.0   // °C, above
	TemperatureLow      = 10.0   // °C, below
	NoiseThreshold      = 75.0   // dB, above
	WaterLevelThreshold = 20.0   // %, below
	BatteryThreshold    = 20.0   // %, below, all sensor kinds
)

// Severity tiering policy: a violation whose magnitude reaches the named
// ratio of its threshold is promoted. For lower-bound rules the ratio
// mirrors the deficit below the threshold.
const (
	SeverityHighRatio   = 1.5
	SeverityMediumRatio = 1.1
)

type direction int

const (
	above direction = iota
	below
)

// Rule is one threshold predicate tied to an alert type.
type Rule struct {
	Type      string
	Kind      sensor.Kind // empty for rules applying to every kind
	Threshold float64
	dir       direction
	unit      string
	label     string
}

// Rules is the canonical rule set, in evaluation order.
var Rules = []Rule{
	{Type: "high_co2", Kind: sensor.KindAir, Threshold: CO2Threshold, dir: above, unit: "ppm", label: "CO2 level elevated"},
	{Type: "high_temperature", Kind: sensor.KindAir, Threshold: TemperatureHigh, dir: above, unit: "°C", label: "temperature high"},
	{Type: "low_temperature", Kind: sensor.KindAir, Threshold: TemperatureLow, dir: below, unit: "°C", label: "temperature low"},
	{Type: "high_noise", Kind: sensor.KindSound, Threshold: NoiseThreshold, dir: above, unit: "dB", label: "noise level elevated"},
	{Type: "low_tank", Kind: sensor.KindWater, Threshold: WaterLevelThreshold, dir: below, unit: "%", label: "water level low"},
	{Type: "low_battery", Threshold: BatteryThreshold, dir: below, unit: "%", label: "battery low"},
}

// Violation is one fired rule for one reading.
type Violation struct {
	Type      string
	Value     float64
	Threshold float64
	Severity  Severity
	Message   string
}

// Outcome is the result of evaluating every applicable rule against one
// reading. Violations drive the none/resolved→open transition; Cleared
// lists rule types whose predicate evaluated false on a present value and
// drives open→resolved. Rules whose input is absent appear in neither.
type Outcome struct {
	Violations []Violation
	Cleared    []string
}

// Evaluate applies every rule relevant to the reading's kind.
func Evaluate(r *sensor.Reading) Outcome {
	var out Outcome
	for _, rule := range Rules {
		if rule.Kind != "" && rule.Kind != r.Kind {
			continue
		}
		value := rule.input(r)
		if value == nil {
			continue
		}
		if rule.fires(*value) {
			out.Violations = append(out.Violations, Violation{
				Type:      rule.Type,
				Value:     *value,
				Threshold: rule.Threshold,
				Severity:  rule.severity(*value),
				Message:   fmt.Sprintf("%s: %.1f %s (threshold %.0f %s)", rule.label, *value, rule.unit, rule.Threshold, rule.unit),
			})
		} else {
			out.Cleared = append(out.Cleared, rule.Type)
		}
	}
	return out
}

// input selects the measurement the rule predicates on, nil when absent.
func (rule Rule) input(r *sensor.Reading) *float64 {
	switch rule.Type {
	case "high_co2":
		return r.Air.CO2
	case "high_temperature", "low_temperature":
		return r.Air.Temperature
	case "high_noise":
		return r.Sound.LAeq
	case "low_tank":
		return r.Water.WaterLevel
	case "low_battery":
		return r.Battery
	}
	return nil
}

func (rule Rule) fires(value float64) bool {
	if rule.dir == above {
		return value > rule.Threshold
	}
	return value < rule.Threshold
}

// severity tiers a violation by how far the value sits beyond the threshold.
func (rule Rule) severity(value float64) Severity {
	ratio := value / rule.Threshold
	if rule.dir == below {
		// Mirror the deficit: 25% below threshold scores the same as 25% above.
		ratio = 2 - ratio
	}
	switch {
	case ratio >= SeverityHighRatio:
		return SeverityHigh
	case ratio >= SeverityMediumRatio:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
