package reconciliation

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/jordigilh/omr-ledger/pkg/domain"
)

// Score computes the per-question breakdown and automated/manual marks
// tally spec.md §4.4 assigns to the orchestrator: each row earns the
// key's marks for that question iff its Final equals the key's
// expected answer, zero otherwise (including an unresolved row, whose
// Final is nil). manualMarks is nil when the caller has no manual marks
// tally to compare (transitionScored always passes nil); marksMatch is
// vacuously true in that case.
func Score(key *domain.AnswerKey, rows []domain.ReconciliationRow, manualMarks *decimal.Decimal, tolerance float64) domain.ScoreResult {
	breakdown := make([]domain.QuestionScore, 0, len(rows))
	automated := decimal.Zero

	for _, row := range rows {
		entry, ok := key.Entries[row.QuestionNumber]
		if !ok {
			continue
		}
		correct := row.Final != nil && *row.Final == entry.ExpectedAnswer
		marks := decimal.Zero
		if correct {
			marks = entry.Marks
			automated = automated.Add(marks)
		}
		breakdown = append(breakdown, domain.QuestionScore{
			QuestionNumber: row.QuestionNumber,
			Marks:          marks,
			Correct:        correct,
		})
	}

	marksMatch := manualMarks == nil || diffWithinTolerance(automated, *manualMarks, tolerance)

	return domain.ScoreResult{
		AutomatedMarks: automated,
		ManualMarks:    manualMarks,
		MarksMatch:     marksMatch,
		Breakdown:      breakdown,
	}
}

func diffWithinTolerance(a, b decimal.Decimal, tolerance float64) bool {
	diff, _ := a.Sub(b).Abs().Float64()
	return diff <= math.Abs(tolerance)
}

// IsPerfectEvaluation implements spec.md §3's invariant: marks match,
// every bubble confidence is at or above a fixed 0.85, the sheet's
// quality score meets the same bar, and no open intervention
// references the sheet.
func IsPerfectEvaluation(result domain.ScoreResult, bubbles *domain.BubbleReading, qualityScore float64, hasOpenIntervention bool) bool {
	if !result.MarksMatch || hasOpenIntervention {
		return false
	}
	if qualityScore < 0.85 {
		return false
	}
	for _, a := range bubbles.Answers {
		if a.Confidence < 0.85 {
			return false
		}
	}
	return true
}
