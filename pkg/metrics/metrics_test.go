package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/omr-ledger/pkg/metrics"
)

func TestMetrics(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Metrics Suite")
}

var _ = Describe("Metrics", func() {
	var (
		m        *metrics.Metrics
		registry *prometheus.Registry
	)

	BeforeEach(func() {
		registry = prometheus.NewRegistry()
		m = metrics.NewMetricsWithRegistry("omr", "", registry)
	})

	It("creates every series non-nil", func() {
		Expect(m.StageTransitionsTotal).NotTo(BeNil())
		Expect(m.StageDurationSeconds).NotTo(BeNil())
		Expect(m.AdapterLatencySeconds).NotTo(BeNil())
		Expect(m.AdapterFailuresTotal).NotTo(BeNil())
		Expect(m.LedgerMiningSeconds).NotTo(BeNil())
		Expect(m.LedgerChainLength).NotTo(BeNil())
		Expect(m.InterventionQueueDepth).NotTo(BeNil())
		Expect(m.InterventionsOpenedTotal).NotTo(BeNil())
	})

	It("records a stage transition with the expected labels", func() {
		m.StageTransitionsTotal.WithLabelValues("INGESTED", "QUALITY_ASSESSED", metrics.OutcomeAdvanced).Inc()

		families, err := registry.Gather()
		Expect(err).NotTo(HaveOccurred())

		var found bool
		for _, fam := range families {
			if fam.GetName() != "omr_stage_transitions_total" {
				continue
			}
			found = true
			Expect(fam.GetMetric()).To(HaveLen(1))
			labels := fam.GetMetric()[0].GetLabel()
			Expect(labels).To(HaveLen(3))
		}
		Expect(found).To(BeTrue())
	})

	It("records ledger mining duration and chain length", func() {
		m.LedgerMiningSeconds.Observe(0.05)
		m.LedgerChainLength.Set(3)

		families, err := registry.Gather()
		Expect(err).NotTo(HaveOccurred())

		names := map[string]bool{}
		for _, fam := range families {
			names[fam.GetName()] = true
		}
		Expect(names).To(HaveKey("omr_ledger_mining_seconds"))
		Expect(names).To(HaveKey("omr_ledger_chain_length"))
	})

	It("tracks intervention queue depth by priority", func() {
		m.InterventionQueueDepth.WithLabelValues("critical").Set(2)
		m.InterventionsOpenedTotal.WithLabelValues("quality_human_review", "normal").Inc()

		families, err := registry.Gather()
		Expect(err).NotTo(HaveOccurred())
		names := map[string]bool{}
		for _, fam := range families {
			names[fam.GetName()] = true
		}
		Expect(names).To(HaveKey("omr_intervention_queue_depth"))
		Expect(names).To(HaveKey("omr_interventions_opened_total"))
	})
})
