package adapters_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/omr-ledger/internal/config"
	"github.com/jordigilh/omr-ledger/pkg/adapters"
)

func TestAdapters(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "External-Service Adapters Suite")
}

func testConfig() config.AdapterConfig {
	return config.AdapterConfig{
		TimeoutSeconds:        1,
		MaxAttempts:           3,
		TotalBudgetSeconds:    2,
		CircuitFailureRatio:   0.5,
		CircuitResetSeconds:   1,
		DefaultRateLimitValue: 1000,
	}
}

var _ = Describe("HTTPQualityAssessor", func() {
	It("decodes a successful response", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"score":    0.92,
				"decision": "proceed",
				"damage":   []interface{}{},
			})
		}))
		defer srv.Close()

		a := adapters.NewHTTPQualityAssessor(srv.URL, testConfig(), zap.NewNop())
		result, err := a.AssessQuality(newCtx(), []byte("fake-image"))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Score).To(Equal(0.92))
		Expect(result.Decision).To(Equal("proceed"))
	})

	It("retries a transient 503 and eventually succeeds", func() {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"score": 0.5, "decision": "reconstruct", "damage": []interface{}{}})
		}))
		defer srv.Close()

		a := adapters.NewHTTPQualityAssessor(srv.URL, testConfig(), zap.NewNop())
		result, err := a.AssessQuality(newCtx(), []byte("fake-image"))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Decision).To(Equal("reconstruct"))
		Expect(atomic.LoadInt32(&calls)).To(BeNumerically(">=", 2))
	})

	It("does not retry a permanent 400 and surfaces it immediately", func() {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		a := adapters.NewHTTPQualityAssessor(srv.URL, testConfig(), zap.NewNop())
		_, err := a.AssessQuality(newCtx(), []byte("fake-image"))
		Expect(err).To(HaveOccurred())
		var aerr *adapters.Error
		Expect(errorsAs(err, &aerr)).To(BeTrue())
		Expect(aerr.Kind).To(Equal(adapters.FailurePermanent))
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
	})

	It("surfaces repeated transient failures as a transient adapter error after exhausting retries", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		a := adapters.NewHTTPQualityAssessor(srv.URL, testConfig(), zap.NewNop())
		_, err := a.AssessQuality(newCtx(), []byte("fake-image"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("HTTPReconstructor", func() {
	It("round-trips base64 image bytes and confidence", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"image_base64": "aGVsbG8=",
				"confidence":   0.7,
			})
		}))
		defer srv.Close()

		a := adapters.NewHTTPReconstructor(srv.URL, testConfig(), zap.NewNop())
		result, err := a.Reconstruct(newCtx(), []byte("damaged"), 10, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(result.ImageBytes)).To(Equal("hello"))
		Expect(result.Confidence).To(Equal(0.7))
	})
})

var _ = Describe("ToAppError", func() {
	It("maps a nil error to nil", func() {
		Expect(adapters.ToAppError("assess_quality", nil)).To(BeNil())
	})

	It("wraps a non-nil adapter error as AdapterUnavailable", func() {
		err := adapters.ToAppError("assess_quality", adapters.ErrFakeUnavailable)
		Expect(err).To(HaveOccurred())
	})
})
