package orchestrator_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/jordigilh/omr-ledger/internal/config"
	"github.com/jordigilh/omr-ledger/pkg/adapters"
	"github.com/jordigilh/omr-ledger/pkg/domain"
	"github.com/jordigilh/omr-ledger/pkg/intervention"
	"github.com/jordigilh/omr-ledger/pkg/ledger"
	"github.com/jordigilh/omr-ledger/pkg/orchestrator"
	"github.com/jordigilh/omr-ledger/pkg/store"
)

func TestOrchestrator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pipeline Orchestrator Suite")
}

// memImages is an in-memory ImageStore fake keyed by content hash.
type memImages struct{ data map[string][]byte }

func newMemImages() *memImages { return &memImages{data: map[string][]byte{}} }

func (m *memImages) Get(_ context.Context, contentHash string) ([]byte, error) {
	b, ok := m.data[contentHash]
	if !ok {
		return nil, errNotFound(contentHash)
	}
	return b, nil
}

type notFoundError string

func (e notFoundError) Error() string { return "image not found: " + string(e) }
func errNotFound(hash string) error   { return notFoundError(hash) }

func testConfig() *config.Config {
	return &config.Config{
		Orchestrator: config.OrchestratorConfig{
			Workers:              2,
			SheetDeadlineSeconds: 600,
			AISolvePolicy:        "always",
			QueueCapacity:        64,
		},
		Reconciliation: config.ReconciliationConfig{LowConfidenceThreshold: 0.7},
		Scoring:        config.ScoringConfig{MarksTallyTolerance: 0.01},
		Quality:        config.QualityConfig{ProceedMinScore: 0.85, RejectMaxScore: 0.4},
	}
}

func newChain() *ledger.Chain {
	chain, err := ledger.Open(ledger.Config{
		Path:              filepath.Join(GinkgoT().TempDir(), "ledger.log"),
		MaxMiningAttempts: 1000,
	})
	Expect(err).NotTo(HaveOccurred())
	return chain
}

func singleQuestionKey(paperID, expected string) *domain.AnswerKey {
	return &domain.AnswerKey{
		Base:   domain.Base{ID: "key-1"},
		PaperID: paperID,
		Status: domain.AnswerKeyLocked,
		Entries: map[int]domain.AnswerKeyEntry{
			1: {QuestionNumber: 1, ExpectedAnswer: expected, Marks: decimal.NewFromInt(4)},
		},
	}
}

var _ = Describe("Orchestrator", func() {
	ctx := context.Background()

	var (
		st     store.Store
		chain  *ledger.Chain
		queue  *intervention.Queue
		images *memImages
		cfg    *config.Config
	)

	BeforeEach(func() {
		st = store.NewMemoryStore()
		chain = newChain()
		queue = intervention.New(st, chain, nil)
		images = newMemImages()
		cfg = testConfig()
	})

	newOrchestrator := func(quality adapters.QualityAssessor, recon adapters.Reconstructor, solver adapters.QuestionSolver) *orchestrator.Orchestrator {
		return orchestrator.New(orchestrator.Dependencies{
			Store:           st,
			Chain:           chain,
			Queue:           queue,
			Images:          images,
			QualityAssessor: quality,
			Reconstructor:   recon,
			QuestionSolver:  solver,
		}, cfg, nil)
	}

	seedSheet := func(sourceHash string) *domain.Sheet {
		paper := &domain.QuestionPaper{Base: domain.Base{ID: "paper-1"}, ExamID: "exam-1", Subject: "math", TotalQuestions: 1, MaxMarks: decimal.NewFromInt(4)}
		Expect(st.CreateQuestionPaper(ctx, paper)).To(Succeed())
		key := singleQuestionKey(paper.ID, "B")
		Expect(st.CreateAnswerKey(ctx, key)).To(Succeed())

		sheet := &domain.Sheet{Base: domain.Base{ID: "sheet-1"}, PaperID: paper.ID, SourceImageHash: sourceHash, Stage: domain.StageIngested}
		Expect(st.CreateSheet(ctx, sheet)).To(Succeed())
		return sheet
	}

	It("advances a sheet from INGESTED to SCORED on the happy path", func() {
		images.data["hash-1"] = []byte("image-bytes")
		seedSheet("hash-1")

		quality := &adapters.FakeQualityAssessor{Result: adapters.QualityResult{Score: 0.95, Decision: "proceed"}}
		solver := &adapters.FakeQuestionSolver{Result: adapters.SolveResult{Answer: "B", Confidence: 0.9}}
		o := newOrchestrator(quality, nil, solver)

		stage, _, _, err := o.AdvanceOne(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(stage).To(Equal(domain.StageQualityAssessed))

		Expect(quality.Calls).To(Equal(1))

		_, err = o.SubmitBubbleReading(ctx, "sheet-1", map[int]domain.BubbleAnswer{
			1: {Answer: "B", Confidence: 0.9},
		})
		Expect(err).NotTo(HaveOccurred())

		stage, _, _, err = o.AdvanceOne(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(stage).To(Equal(domain.StageAISolved))
		Expect(solver.Calls).To(Equal(1))

		stage, _, _, err = o.AdvanceOne(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(stage).To(Equal(domain.StageReconciled))

		stage, _, _, err = o.AdvanceOne(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(stage).To(Equal(domain.StageScored))

		result, err := st.GetScoreResult(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.AutomatedMarks.Equal(decimal.NewFromInt(4))).To(BeTrue())
		Expect(result.Grade).To(Equal("A"))
	})

	It("opens a critical intervention and halts when the quality adapter is exhausted", func() {
		images.data["hash-1"] = []byte("image-bytes")
		seedSheet("hash-1")

		quality := &adapters.FakeQualityAssessor{Err: adapters.ErrFakeUnavailable}
		o := newOrchestrator(quality, nil, &adapters.FakeQuestionSolver{})

		stage, interventionID, advanced, err := o.AdvanceOne(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(advanced).To(BeFalse())
		Expect(stage).To(Equal(domain.StageIngested))
		Expect(interventionID).NotTo(BeEmpty())

		open, err := queue.OpenForSheet(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(open).To(BeTrue())
	})

	It("rejects on a low score regardless of what the adapter's own decision says", func() {
		images.data["hash-1"] = []byte("image-bytes")
		seedSheet("hash-1")

		quality := &adapters.FakeQualityAssessor{Result: adapters.QualityResult{Score: 0.1, Decision: "proceed"}}
		o := newOrchestrator(quality, nil, &adapters.FakeQuestionSolver{})

		stage, _, _, err := o.AdvanceOne(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(stage).To(Equal(domain.StageRejected))
	})

	It("routes a mid-band score with severe damage to human_review and opens an intervention", func() {
		images.data["hash-1"] = []byte("image-bytes")
		seedSheet("hash-1")

		quality := &adapters.FakeQualityAssessor{Result: adapters.QualityResult{
			Score:    0.6,
			Decision: "proceed",
			Damage:   []adapters.DamageKind{{Kind: "smudge", Severity: "severe"}},
		}}
		o := newOrchestrator(quality, nil, &adapters.FakeQuestionSolver{})

		stage, interventionID, advanced, err := o.AdvanceOne(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(advanced).To(BeTrue())
		Expect(stage).To(Equal(domain.StageQualityAssessed))
		Expect(interventionID).NotTo(BeEmpty())

		record, err := st.GetQualityRecord(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(record.Decision).To(Equal(domain.QualityHumanReview))
	})

	It("routes a mid-band score with no severe damage to reconstruct", func() {
		images.data["hash-1"] = []byte("image-bytes")
		seedSheet("hash-1")

		quality := &adapters.FakeQualityAssessor{Result: adapters.QualityResult{
			Score:    0.6,
			Decision: "proceed",
			Damage:   []adapters.DamageKind{{Kind: "smudge", Severity: "minor"}},
		}}
		recon := &adapters.FakeReconstructor{Result: adapters.ReconstructResult{ImageBytes: []byte("clean-bytes"), Confidence: 0.9}}
		o := newOrchestrator(quality, recon, &adapters.FakeQuestionSolver{})

		stage, _, _, err := o.AdvanceOne(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(stage).To(Equal(domain.StageQualityAssessed))

		record, err := st.GetQualityRecord(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(record.Decision).To(Equal(domain.QualityReconstruct))

		stage, _, advanced, err := o.AdvanceOne(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(advanced).To(BeTrue())
		Expect(stage).To(Equal(domain.StageReconstructed))
	})

	It("blocks SCORED while a reconciliation intervention is open", func() {
		images.data["hash-1"] = []byte("image-bytes")
		seedSheet("hash-1")

		quality := &adapters.FakeQualityAssessor{Result: adapters.QualityResult{Score: 0.95, Decision: "proceed"}}
		solver := &adapters.FakeQuestionSolver{Result: adapters.SolveResult{Answer: "C", Confidence: 0.9}}
		o := newOrchestrator(quality, nil, solver)

		_, _, _, err := o.AdvanceOne(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		_, err = o.SubmitBubbleReading(ctx, "sheet-1", map[int]domain.BubbleAnswer{
			1: {Answer: domain.AnswerMultiple, Confidence: 0.9},
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = o.SubmitManualEntry(ctx, "sheet-1", "operator-1", map[int]string{1: "B"})
		Expect(err).NotTo(HaveOccurred())

		stage, _, _, err := o.AdvanceOne(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(stage).To(Equal(domain.StageReconciled))

		open, err := queue.OpenForSheet(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(open).To(BeTrue())

		stage, _, advanced, err := o.AdvanceOne(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(advanced).To(BeFalse())
		Expect(stage).To(Equal(domain.StageReconciled))
	})

	It("rejects Finalize before the sheet reaches SCORED", func() {
		images.data["hash-1"] = []byte("image-bytes")
		seedSheet("hash-1")
		o := newOrchestrator(&adapters.FakeQualityAssessor{}, nil, &adapters.FakeQuestionSolver{})

		_, err := o.Finalize(ctx, "sheet-1", nil)
		Expect(err).To(HaveOccurred())
	})

	It("does not open a deadline intervention for a sheet that has simply been sitting at a human gate", func() {
		images.data["hash-1"] = []byte("image-bytes")
		sheet := seedSheet("hash-1")
		sheet.CreatedAt = time.Now().Add(-24 * time.Hour)
		Expect(st.CreateSheet(ctx, sheet)).To(Succeed())

		cfg.Orchestrator.SheetDeadlineSeconds = 1
		quality := &adapters.FakeQualityAssessor{Result: adapters.QualityResult{Score: 0.95, Decision: "proceed"}}
		o := newOrchestrator(quality, nil, &adapters.FakeQuestionSolver{})

		stage, interventions, err := o.RunUntilGate(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(interventions).To(BeEmpty())
		Expect(stage).To(Equal(domain.StageQualityAssessed))

		open, err := queue.OpenForSheet(ctx, "sheet-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(open).To(BeFalse())
	})
})
