package generator_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"citysense.dev/pipeline/internal/sensor"
	"citysense.dev/pipeline/pkg/generator"
)

var _ = Describe("Device", func() {
	Describe("NewDevice", func() {
		It("should name devices by sensor kind", func() {
			Expect(generator.NewDevice(sensor.KindAir).Name).To(HavePrefix("ems-co2-"))
			Expect(generator.NewDevice(sensor.KindSound).Name).To(HavePrefix("sls-noise-"))
			Expect(generator.NewDevice(sensor.KindWater).Name).To(HavePrefix("uds-level-"))
		})

		It("should place devices at valid coordinates", func() {
			device := generator.NewDevice(sensor.KindAir)
			Expect(device.Latitude).To(BeNumerically(">=", -90))
			Expect(device.Latitude).To(BeNumerically("<=", 90))
			Expect(device.Longitude).To(BeNumerically(">=", -180))
			Expect(device.Longitude).To(BeNumerically("<=", 180))
		})
	})

	Describe("NextEnvelope", func() {
		It("should produce envelopes with unique message IDs", func() {
			device := generator.NewDevice(sensor.KindAir)
			now := time.Now().UTC()

			seen := map[string]bool{}
			for i := 0; i < 10; i++ {
				body, err := device.NextEnvelope(now)
				Expect(err).NotTo(HaveOccurred())

				var env sensor.Envelope
				Expect(json.Unmarshal(body, &env)).To(Succeed())
				Expect(env.MessageID).NotTo(BeEmpty())
				Expect(seen[env.MessageID]).To(BeFalse())
				seen[env.MessageID] = true
			}
		})

		DescribeTable("should produce readings that pass validation",
			func(kind sensor.Kind) {
				device := generator.NewDevice(kind)
				now := time.Now().UTC()

				// Sample repeatedly: anomaly injection must still produce
				// decodable readings.
				for i := 0; i < 50; i++ {
					body, err := device.NextEnvelope(now)
					Expect(err).NotTo(HaveOccurred())

					r, err := sensor.Decode(kind, body, now)
					Expect(err).NotTo(HaveOccurred())
					Expect(r.Kind).To(Equal(kind))
					Expect(r.DeviceName).To(Equal(device.Name))
				}
			},
			Entry("air devices", sensor.KindAir),
			Entry("sound devices", sensor.KindSound),
			Entry("water devices", sensor.KindWater),
		)

		It("should keep air measurements within physical ranges", func() {
			device := generator.NewDevice(sensor.KindAir)
			now := time.Now().UTC()

			for i := 0; i < 50; i++ {
				body, err := device.NextEnvelope(now)
				Expect(err).NotTo(HaveOccurred())

				r, err := sensor.Decode(sensor.KindAir, body, now)
				Expect(err).NotTo(HaveOccurred())
				Expect(r.Air.CO2).NotTo(BeNil())
				Expect(*r.Air.CO2).To(BeNumerically(">=", sensor.CO2Min))
				Expect(*r.Air.CO2).To(BeNumerically("<=", sensor.CO2Max))
			}
		})

		It("should drain the battery over successive readings", func() {
			device := generator.NewDevice(sensor.KindWater)
			now := time.Now().UTC()

			read := func() float64 {
				body, err := device.NextEnvelope(now)
				Expect(err).NotTo(HaveOccurred())
				var env sensor.Envelope
				Expect(json.Unmarshal(body, &env)).To(Succeed())
				var data struct {
					Battery float64 `json:"battery"`
				}
				Expect(json.Unmarshal(env.Data, &data)).To(Succeed())
				return data.Battery
			}

			first := read()
			var last float64
			for i := 0; i < 20; i++ {
				last = read()
			}
			Expect(last).To(BeNumerically("<", first))
		})
	})
})
