package sensor

// Classification thresholds. The CO₂ alerting threshold (1000 ppm) doubles
// as the boundary of the "poor" category; the comfort band [10,30] °C is
// shared with the temperature alert rules.
const (
	CO2GoodBelow     = 800.0  // ppm
	CO2ModerateBelow = 1000.0 // ppm
	ComfortTempMin   = 10.0   // °C
	ComfortTempMax   = 30.0   // °C
	NoiseElevated    = 75.0   // dB
	NoiseDangerous   = 85.0   // dB
	TankLowBelow     = 20.0   // %
	TankMediumBelow  = 60.0   // %
	TankHighBelow    = 85.0   // %
)

// CategoryUnknown is used when the input needed for a category is absent.
const CategoryUnknown = "unknown"

// Classification carries the derived categorical labels for one reading.
// Only the fields relevant to the reading's kind are populated.
type Classification struct {
	AirQuality  string
	Temperature string
	Noise       string
	Tank        string
}

// Classify derives categorical labels from a validated reading. It is pure:
// absent inputs yield "unknown" categories, never an error.
func Classify(r *Reading) Classification {
	var c Classification
	switch r.Kind {
	case KindAir:
		c.AirQuality = AirQualityCategory(r.Air.CO2)
		c.Temperature = TemperatureCategory(r.Air.Temperature)
	case KindSound:
		c.Noise = NoiseCategory(r.Sound.LAeq)
	case KindWater:
		c.Tank = TankStatus(r.Water.WaterLevel)
	}
	return c
}

// AirQualityCategory buckets a CO₂ concentration.
func AirQualityCategory(co2 *float64) string {
	switch {
	case co2 == nil:
		return CategoryUnknown
	case *co2 < CO2GoodBelow:
		return "good"
	case *co2 <= CO2ModerateBelow:
		return "moderate"
	default:
		return "poor"
	}
}

// TemperatureCategory flags temperatures outside the comfort band.
func TemperatureCategory(temp *float64) string {
	switch {
	case temp == nil:
		return CategoryUnknown
	case *temp < ComfortTempMin:
		return "low"
	case *temp > ComfortTempMax:
		return "high"
	default:
		return "normal"
	}
}

// NoiseCategory buckets an equivalent sound level.
func NoiseCategory(laeq *float64) string {
	switch {
	case laeq == nil:
		return CategoryUnknown
	case *laeq > NoiseDangerous:
		return "dangerous"
	case *laeq > NoiseElevated:
		return "elevated"
	default:
		return "normal"
	}
}

// TankStatus buckets a tank fill level.
func TankStatus(level *float64) string {
	switch {
	case level == nil:
		return CategoryUnknown
	case *level < TankLowBelow:
		return "low"
	case *level < TankMediumBelow:
		return "medium"
	case *level < TankHighBelow:
		return "high"
	default:
		return "full"
	}
}
