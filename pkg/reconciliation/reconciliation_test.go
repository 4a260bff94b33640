package reconciliation_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/jordigilh/omr-ledger/pkg/domain"
	"github.com/jordigilh/omr-ledger/pkg/reconciliation"
)

func TestReconciliation(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Reconciliation Engine Suite")
}

func key(entries map[int]string) *domain.AnswerKey {
	e := map[int]domain.AnswerKeyEntry{}
	for q, ans := range entries {
		e[q] = domain.AnswerKeyEntry{QuestionNumber: q, ExpectedAnswer: ans, Marks: decimal.NewFromInt(2)}
	}
	return &domain.AnswerKey{Entries: e}
}

func bubbles(answers map[int]domain.BubbleAnswer) *domain.BubbleReading {
	return &domain.BubbleReading{Answers: answers}
}

func ai(answers map[int]domain.SolverAnswer) *domain.AISolverVerdict {
	return &domain.AISolverVerdict{Answers: answers}
}

func manual(answers map[int]string) *domain.ManualEntry {
	return &domain.ManualEntry{Answers: answers}
}

func rowFor(rows []domain.ReconciliationRow, q int) domain.ReconciliationRow {
	for _, r := range rows {
		if r.QuestionNumber == q {
			return r
		}
	}
	return domain.ReconciliationRow{}
}

var _ = Describe("Reconcile", func() {
	It("matches when all three sources agree", func() {
		in := reconciliation.Inputs{
			Key:     key(map[int]string{1: "B"}),
			Bubbles: bubbles(map[int]domain.BubbleAnswer{1: {Answer: "B", Confidence: 0.95}}),
			AI:      ai(map[int]domain.SolverAnswer{1: {Answer: "B", Confidence: 0.9}}),
			Manual:  manual(map[int]string{1: "B"}),
		}
		row := rowFor(reconciliation.Reconcile(in), 1)
		Expect(row.Status).To(Equal(domain.StatusMatched))
		Expect(*row.Final).To(Equal("B"))
	})

	It("keeps matched for a correctly-detected wrong answer, no intervention", func() {
		in := reconciliation.Inputs{
			Key:     key(map[int]string{1: "B"}),
			Bubbles: bubbles(map[int]domain.BubbleAnswer{1: {Answer: "C", Confidence: 0.95}}),
			AI:      ai(map[int]domain.SolverAnswer{1: {Answer: "C", Confidence: 0.9}}),
			Manual:  manual(map[int]string{1: "C"}),
		}
		row := rowFor(reconciliation.Reconcile(in), 1)
		Expect(row.Status).To(Equal(domain.StatusMatched))
		Expect(*row.Final).To(Equal("C"))
		Expect(reconciliation.OpensIntervention(row)).To(BeFalse())
	})

	It("resolves disputed_ai in the bubble's favor when bubble equals manual", func() {
		in := reconciliation.Inputs{
			Key:     key(map[int]string{1: "B"}),
			Bubbles: bubbles(map[int]domain.BubbleAnswer{1: {Answer: "B", Confidence: 0.95}}),
			AI:      ai(map[int]domain.SolverAnswer{1: {Answer: "D", Confidence: 0.9}}),
			Manual:  manual(map[int]string{1: "B"}),
		}
		row := rowFor(reconciliation.Reconcile(in), 1)
		Expect(row.Status).To(Equal(domain.StatusDisputedAI))
		Expect(*row.Final).To(Equal("B"))
		Expect(reconciliation.OpensIntervention(row)).To(BeFalse())
	})

	It("opens a high-priority intervention on a three-way split", func() {
		in := reconciliation.Inputs{
			Key:     key(map[int]string{1: "B"}),
			Bubbles: bubbles(map[int]domain.BubbleAnswer{1: {Answer: "B", Confidence: 0.95}}),
			AI:      ai(map[int]domain.SolverAnswer{1: {Answer: "C", Confidence: 0.9}}),
			Manual:  manual(map[int]string{1: "D"}),
		}
		row := rowFor(reconciliation.Reconcile(in), 1)
		Expect(row.Status).To(Equal(domain.StatusThreeWaySplit))
		Expect(row.Final).To(BeNil())
		Expect(reconciliation.OpensIntervention(row)).To(BeTrue())
		Expect(reconciliation.InterventionPriority(row)).To(Equal(domain.PriorityHigh))
	})

	It("treats a MULTIPLE bubble as never matching, even if AI and manual agree with one value", func() {
		in := reconciliation.Inputs{
			Key:     key(map[int]string{1: "B"}),
			Bubbles: bubbles(map[int]domain.BubbleAnswer{1: {Answer: domain.AnswerMultiple, Confidence: 0.95}}),
			AI:      ai(map[int]domain.SolverAnswer{1: {Answer: "B", Confidence: 0.9}}),
			Manual:  manual(map[int]string{1: "B"}),
		}
		row := rowFor(reconciliation.Reconcile(in), 1)
		Expect(row.Status).NotTo(Equal(domain.StatusMatched))
		Expect(row.Final).To(BeNil())
	})

	It("forces needs_review when bubble confidence is below threshold even if all sources agree", func() {
		in := reconciliation.Inputs{
			Key:                    key(map[int]string{1: "B"}),
			Bubbles:                bubbles(map[int]domain.BubbleAnswer{1: {Answer: "B", Confidence: 0.5}}),
			AI:                     ai(map[int]domain.SolverAnswer{1: {Answer: "B", Confidence: 0.9}}),
			Manual:                 manual(map[int]string{1: "B"}),
			LowConfidenceThreshold: 0.7,
		}
		row := rowFor(reconciliation.Reconcile(in), 1)
		Expect(row.Status).To(Equal(domain.StatusNeedsReview))
		Expect(row.Final).To(BeNil())
	})

	It("marks needs_review when the bubble reading is missing entirely", func() {
		in := reconciliation.Inputs{
			Key:     key(map[int]string{1: "B", 2: "A"}),
			Bubbles: bubbles(map[int]domain.BubbleAnswer{2: {Answer: "A", Confidence: 0.9}}),
		}
		row := rowFor(reconciliation.Reconcile(in), 1)
		Expect(row.Status).To(Equal(domain.StatusNeedsReview))
	})

	It("matches a bubble-only question against the answer key", func() {
		in := reconciliation.Inputs{
			Key:     key(map[int]string{1: "B"}),
			Bubbles: bubbles(map[int]domain.BubbleAnswer{1: {Answer: "B", Confidence: 0.95}}),
		}
		row := rowFor(reconciliation.Reconcile(in), 1)
		Expect(row.Status).To(Equal(domain.StatusMatched))
		Expect(*row.Final).To(Equal("B"))
		Expect(reconciliation.OpensIntervention(row)).To(BeFalse())
	})

	It("needs_review for a bubble-only question that disagrees with the answer key", func() {
		in := reconciliation.Inputs{
			Key:     key(map[int]string{1: "B"}),
			Bubbles: bubbles(map[int]domain.BubbleAnswer{1: {Answer: "C", Confidence: 0.95}}),
		}
		row := rowFor(reconciliation.Reconcile(in), 1)
		Expect(row.Status).To(Equal(domain.StatusNeedsReview))
		Expect(row.Final).To(BeNil())
	})

	It("never matches a bubble-only MULTIPLE reading against the answer key", func() {
		in := reconciliation.Inputs{
			Key:     key(map[int]string{1: "B"}),
			Bubbles: bubbles(map[int]domain.BubbleAnswer{1: {Answer: domain.AnswerMultiple, Confidence: 0.95}}),
		}
		row := rowFor(reconciliation.Reconcile(in), 1)
		Expect(row.Status).To(Equal(domain.StatusNeedsReview))
		Expect(row.Final).To(BeNil())
	})

	It("matches on exactly two agreeing sources (bubble + AI only)", func() {
		in := reconciliation.Inputs{
			Key:     key(map[int]string{1: "B"}),
			Bubbles: bubbles(map[int]domain.BubbleAnswer{1: {Answer: "B", Confidence: 0.95}}),
			AI:      ai(map[int]domain.SolverAnswer{1: {Answer: "B", Confidence: 0.9}}),
		}
		row := rowFor(reconciliation.Reconcile(in), 1)
		Expect(row.Status).To(Equal(domain.StatusMatched))
		Expect(*row.Final).To(Equal("B"))
	})
})

var _ = Describe("Score", func() {
	It("sums marks for correct final answers and zero for the rest", func() {
		k := key(map[int]string{1: "B", 2: "A"})
		final1, final2 := "B", "C"
		rows := []domain.ReconciliationRow{
			{QuestionNumber: 1, Final: &final1},
			{QuestionNumber: 2, Final: &final2},
		}
		result := reconciliation.Score(k, rows, nil, 0.01)
		Expect(result.AutomatedMarks.Equal(decimal.NewFromInt(2))).To(BeTrue())
		Expect(result.MarksMatch).To(BeTrue())
	})

	It("reports marks_match false when manual marks differ beyond tolerance", func() {
		k := key(map[int]string{1: "B"})
		final1 := "B"
		rows := []domain.ReconciliationRow{{QuestionNumber: 1, Final: &final1}}
		manualMarks := decimal.NewFromFloat(0)
		result := reconciliation.Score(k, rows, &manualMarks, 0.01)
		Expect(result.MarksMatch).To(BeFalse())
	})
})
