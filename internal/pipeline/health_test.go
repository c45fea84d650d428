package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Health", func() {
	Describe("failure budget", func() {
		It("should not be exhausted before the budget is spent", func() {
			h := NewHealth(3)
			h.RecordFailure()
			h.RecordFailure()
			Expect(h.Exhausted()).To(BeFalse())
		})

		It("should be exhausted at the budget", func() {
			h := NewHealth(3)
			for i := 0; i < 3; i++ {
				h.RecordFailure()
			}
			Expect(h.Exhausted()).To(BeTrue())
		})

		It("should reset the streak on success", func() {
			h := NewHealth(2)
			h.RecordFailure()
			h.RecordSuccess()
			h.RecordFailure()
			Expect(h.Exhausted()).To(BeFalse())
		})

		It("should fall back to the default budget when non-positive", func() {
			h := NewHealth(0)
			for i := 0; i < DefaultFailureBudget-1; i++ {
				h.RecordFailure()
			}
			Expect(h.Exhausted()).To(BeFalse())
			h.RecordFailure()
			Expect(h.Exhausted()).To(BeTrue())
		})
	})

	Describe("HTTP endpoints", func() {
		var metricsStub http.Handler

		BeforeEach(func() {
			metricsStub = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		})

		get := func(h *Health, path string) *httptest.ResponseRecorder {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, path, nil)
			h.Router(metricsStub).ServeHTTP(rec, req)
			return rec
		}

		It("should report healthy while the budget holds", func() {
			h := NewHealth(2)
			Expect(get(h, "/healthz").Code).To(Equal(http.StatusOK))
		})

		It("should report unhealthy once the budget is exhausted", func() {
			h := NewHealth(1)
			h.RecordFailure()
			rec := get(h, "/healthz")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(rec.Body.String()).To(ContainSubstring("failure budget"))
		})

		It("should report ready when all probes pass", func() {
			h := NewHealth(2,
				Check{Name: "postgres", Probe: func(context.Context) error { return nil }},
				Check{Name: "redis", Probe: func(context.Context) error { return nil }},
			)
			Expect(get(h, "/readyz").Code).To(Equal(http.StatusOK))
		})

		It("should report not ready when a probe fails", func() {
			h := NewHealth(2,
				Check{Name: "postgres", Probe: func(context.Context) error { return nil }},
				Check{Name: "redis", Probe: func(context.Context) error { return errors.New("refused") }},
			)
			rec := get(h, "/readyz")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(rec.Body.String()).To(ContainSubstring("redis"))
		})

		It("should serve the metrics handler", func() {
			h := NewHealth(2)
			Expect(get(h, "/metrics").Code).To(Equal(http.StatusOK))
		})
	})
})
