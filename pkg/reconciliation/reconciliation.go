// Package reconciliation implements the per-question precedence rules
// (C4) that turn a BubbleReading plus optional AISolverVerdict and
// ManualEntry into a Reconciliation: one status/final decision per
// question, deciding automatically where the sources agree and opening
// the door for an intervention where they don't.
package reconciliation

import (
	"github.com/jordigilh/omr-ledger/pkg/domain"
)

// Inputs bundles the sources C4 reconciles for one sheet. AI and
// Manual are nil when that source was never produced.
type Inputs struct {
	Key               *domain.AnswerKey
	Bubbles           *domain.BubbleReading
	AI                *domain.AISolverVerdict
	Manual            *domain.ManualEntry
	LowConfidenceThreshold float64
}

// Reconcile computes one ReconciliationRow per question in Key.Entries,
// applying spec.md §4.4's precedence rules in order. It never mutates
// its inputs and never touches the store or ledger — callers persist
// the result and decide whether to open interventions for rows whose
// Final is nil.
func Reconcile(in Inputs) []domain.ReconciliationRow {
	threshold := in.LowConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.7
	}

	rows := make([]domain.ReconciliationRow, 0, len(in.Key.Entries))
	for q := range in.Key.Entries {
		rows = append(rows, reconcileQuestion(q, in, threshold))
	}
	return rows
}

func reconcileQuestion(q int, in Inputs, threshold float64) domain.ReconciliationRow {
	row := domain.ReconciliationRow{QuestionNumber: q}

	bubble, hasBubble := in.Bubbles.Answers[q]
	if !hasBubble {
		row.Status = domain.StatusNeedsReview
		return row
	}

	omrAnswer := bubble.Answer
	row.OMR = &omrAnswer

	var aiAnswer, manualAnswer *string
	if in.AI != nil {
		if a, ok := in.AI.Answers[q]; ok {
			v := a.Answer
			aiAnswer = &v
		}
	}
	if in.Manual != nil {
		if m, ok := in.Manual.Answers[q]; ok {
			manualAnswer = &m
		}
	}
	row.AI = aiAnswer
	row.Manual = manualAnswer

	b := string(omrAnswer)
	var keyAnswer *string
	if entry, ok := in.Key.Entries[q]; ok {
		v := entry.ExpectedAnswer
		keyAnswer = &v
	}
	decide(&row, b, aiAnswer, manualAnswer, keyAnswer)

	// Low-confidence override applies regardless of how the sources
	// above resolved the question — a correctly-agreeing but
	// low-confidence bubble read still needs a human look.
	if bubble.Confidence < threshold {
		row.Status = domain.StatusNeedsReview
		row.Final = nil
	}
	return row
}

// decide applies the precedence rules for one question given its
// bubble value b and optional AI/manual pointers, setting row.Status
// and row.Final. b is never MULTIPLE-equal to anything: a MULTIPLE
// bubble reading can never be treated as agreeing with another source,
// so it always falls through to three_way_split (AI and manual both
// present) or needs_review, never disputed_* and never silently matched.
func decide(row *domain.ReconciliationRow, b string, ai, manual, key *string) {
	isMultiple := b == string(domain.AnswerMultiple)

	switch {
	case ai != nil && manual != nil:
		a, m := *ai, *manual
		switch {
		case !isMultiple && b == a && a == m:
			row.Status = domain.StatusMatched
			final := b
			row.Final = &final
		case !isMultiple && b == m && b != a:
			row.Status = domain.StatusDisputedAI
			final := b
			row.Final = &final
		case !isMultiple && b == a && b != m:
			row.Status = domain.StatusDisputedManual
			final := b
			row.Final = &final
		default:
			// All three differ, or b is MULTIPLE so it can agree with
			// neither: no automatic final, highest intervention priority.
			row.Status = domain.StatusThreeWaySplit
			row.Final = nil
		}

	case ai != nil && manual == nil:
		if !isMultiple && b == *ai {
			row.Status = domain.StatusMatched
			final := b
			row.Final = &final
		} else {
			row.Status = domain.StatusNeedsReview
			row.Final = nil
		}

	case manual != nil && ai == nil:
		if !isMultiple && b == *manual {
			row.Status = domain.StatusMatched
			final := b
			row.Final = &final
		} else {
			row.Status = domain.StatusNeedsReview
			row.Final = nil
		}

	default:
		// Neither AI nor manual present: fall back to the answer key
		// (spec.md §4.4 rule 2) — matched if the bubble agrees with
		// it, otherwise needs_review. A MULTIPLE bubble never agrees.
		if !isMultiple && key != nil && b == *key {
			row.Status = domain.StatusMatched
			final := b
			row.Final = &final
		} else {
			row.Status = domain.StatusNeedsReview
			row.Final = nil
		}
	}
}

// OpensIntervention reports whether row's status requires a human
// decision before the sheet may proceed to SCORED. matched rows never
// open one, even when Final disagrees with the answer key — a
// correctly-detected wrong answer is not ambiguous.
func OpensIntervention(row domain.ReconciliationRow) bool {
	return row.Final == nil
}

// InterventionPriority returns the priority an opened intervention for
// row should carry: three_way_split is high (three disagreeing
// sources), everything else that blocks is normal.
func InterventionPriority(row domain.ReconciliationRow) domain.InterventionPriority {
	if row.Status == domain.StatusThreeWaySplit {
		return domain.PriorityHigh
	}
	return domain.PriorityNormal
}
