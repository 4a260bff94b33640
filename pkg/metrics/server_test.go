package metrics_test

import (
	"context"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/omr-ledger/pkg/metrics"
)

var _ = Describe("Server", func() {
	It("serves prometheus text format on /metrics and OK on /health", func() {
		srv := metrics.NewServer("9981", nil)
		srv.StartAsync()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(ctx)
		}()
		time.Sleep(150 * time.Millisecond)

		metricsResp, err := http.Get("http://localhost:9981/metrics")
		Expect(err).NotTo(HaveOccurred())
		defer metricsResp.Body.Close()
		Expect(metricsResp.StatusCode).To(Equal(http.StatusOK))
		body, err := io.ReadAll(metricsResp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring("# HELP"))

		healthResp, err := http.Get("http://localhost:9981/health")
		Expect(err).NotTo(HaveOccurred())
		defer healthResp.Body.Close()
		Expect(healthResp.StatusCode).To(Equal(http.StatusOK))
		healthBody, err := io.ReadAll(healthResp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(healthBody)).To(Equal("OK"))
	})

	It("shuts down gracefully", func() {
		srv := metrics.NewServer("9980", nil)
		srv.StartAsync()
		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(srv.Stop(ctx)).To(Succeed())
	})
})
