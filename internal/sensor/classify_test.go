package sensor_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"citysense.dev/pipeline/internal/sensor"
)

func ptr(v float64) *float64 { return &v }

var _ = Describe("Classify", func() {
	DescribeTable("air quality categories",
		func(co2 *float64, expected string) {
			Expect(sensor.AirQualityCategory(co2)).To(Equal(expected))
		},
		Entry("absent value", nil, sensor.CategoryUnknown),
		Entry("well below the good boundary", ptr(450.0), "good"),
		Entry("just below the good boundary", ptr(799.9), "good"),
		Entry("at the good boundary", ptr(800.0), "moderate"),
		Entry("at the moderate boundary", ptr(1000.0), "moderate"),
		Entry("above the moderate boundary", ptr(1200.0), "poor"),
	)

	DescribeTable("temperature categories",
		func(temp *float64, expected string) {
			Expect(sensor.TemperatureCategory(temp)).To(Equal(expected))
		},
		Entry("absent value", nil, sensor.CategoryUnknown),
		Entry("below the comfort band", ptr(5.0), "low"),
		Entry("at the lower bound", ptr(10.0), "normal"),
		Entry("inside the comfort band", ptr(21.0), "normal"),
		Entry("at the upper bound", ptr(30.0), "normal"),
		Entry("above the comfort band", ptr(34.0), "high"),
	)

	DescribeTable("noise categories",
		func(laeq *float64, expected string) {
			Expect(sensor.NoiseCategory(laeq)).To(Equal(expected))
		},
		Entry("absent value", nil, sensor.CategoryUnknown),
		Entry("quiet", ptr(50.0), "normal"),
		Entry("at the elevated boundary", ptr(75.0), "normal"),
		Entry("elevated", ptr(80.0), "elevated"),
		Entry("at the dangerous boundary", ptr(85.0), "elevated"),
		Entry("dangerous", ptr(95.0), "dangerous"),
	)

	DescribeTable("tank statuses",
		func(level *float64, expected string) {
			Expect(sensor.TankStatus(level)).To(Equal(expected))
		},
		Entry("absent value", nil, sensor.CategoryUnknown),
		Entry("nearly empty", ptr(10.0), "low"),
		Entry("at the low boundary", ptr(20.0), "medium"),
		Entry("half full", ptr(50.0), "medium"),
		Entry("at the medium boundary", ptr(60.0), "high"),
		Entry("at the high boundary", ptr(85.0), "full"),
		Entry("completely full", ptr(100.0), "full"),
	)

	It("should only populate the fields for the reading's kind", func() {
		r := &sensor.Reading{
			Kind: sensor.KindAir,
			Air:  &sensor.AirPayload{CO2: ptr(900.0), Temperature: ptr(22.0)},
		}
		c := sensor.Classify(r)
		Expect(c.AirQuality).To(Equal("moderate"))
		Expect(c.Temperature).To(Equal("normal"))
		Expect(c.Noise).To(BeEmpty())
		Expect(c.Tank).To(BeEmpty())
	})

	It("should classify nulled measurements as unknown", func() {
		r := &sensor.Reading{
			Kind: sensor.KindAir,
			Air:  &sensor.AirPayload{Temperature: ptr(22.0)},
		}
		c := sensor.Classify(r)
		Expect(c.AirQuality).To(Equal(sensor.CategoryUnknown))
		Expect(c.Temperature).To(Equal("normal"))
	})
})
