package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/jordigilh/omr-ledger/internal/config"
	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
	"github.com/jordigilh/omr-ledger/pkg/domain"
	"github.com/jordigilh/omr-ledger/pkg/ledger"
	"github.com/jordigilh/omr-ledger/pkg/reconciliation"
)

// journalPayload marshals fields for a Journal entry's Mutation; the
// marshal can never fail for a map[string]string, so a failure here
// (which would only come from an exotic json.Marshaler) just leaves the
// entry's Mutation empty rather than failing the transition.
func journalPayload(fields map[string]string) json.RawMessage {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return data
}

// contentHash is the same sha256-hex scheme pkg/ledger uses for its
// own payload hashing, reused here so a reconstructed image's content
// hash is computed the same way a Sheet's source image hash is.
func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// qualityDecisionFor resolves a proceed/reconstruct/reject/human_review
// decision from score and cfg's configured bands (spec.md §9: "source
// gives ranges without strict boundaries; expose thresholds in
// configuration"), rather than trusting the adapter's own Decision
// string verbatim. A score at or above ProceedMinScore always
// proceeds; at or below RejectMaxScore always rejects. In between,
// a severe damage kind routes to human_review; anything else
// routes to reconstruct.
func qualityDecisionFor(cfg config.QualityConfig, score float64, damage []domain.DamageKind) domain.QualityDecision {
	if score >= cfg.ProceedMinScore {
		return domain.QualityProceed
	}
	if score <= cfg.RejectMaxScore {
		return domain.QualityReject
	}
	for _, d := range damage {
		if d.Severity == "severe" {
			return domain.QualityHumanReview
		}
	}
	return domain.QualityReconstruct
}

// appendStage hashes fields into a payload and appends a block of kind,
// the one ledger call every transition in this file funnels through so
// the "exactly one block per transition" invariant (spec.md §3) holds
// structurally rather than by convention.
func (o *Orchestrator) appendStage(kind ledger.Kind, fields map[string]string) (ledger.Block, error) {
	entries := make([]ledger.PayloadEntry, 0, len(fields))
	for k, v := range fields {
		e, err := ledger.NewPayloadEntry(k, v)
		if err != nil {
			return ledger.Block{}, apperrors.NewInternalError("building stage payload", err)
		}
		entries = append(entries, e)
	}
	return o.chain.Append(kind, entries, nil, ledger.AppendOptions{})
}

// transitionQuality is INGESTED -> QUALITY_ASSESSED (or REJECTED),
// guarded on image bytes being available for the sheet's recorded
// content hash.
func (o *Orchestrator) transitionQuality(ctx context.Context, sheet *domain.Sheet) (domain.Stage, string, bool, error) {
	imageBytes, err := o.images.Get(ctx, sheet.SourceImageHash)
	if err != nil {
		return sheet.Stage, "", false, apperrors.Wrap(err, apperrors.ErrorTypePreconditionFailed, "image bytes not available for sheet")
	}

	result, err := o.quality.AssessQuality(ctx, imageBytes)
	if err != nil {
		return o.handleAdapterFailure(ctx, sheet, "quality_adapter_unavailable", err)
	}

	damage := make([]domain.DamageKind, 0, len(result.Damage))
	for _, d := range result.Damage {
		damage = append(damage, domain.DamageKind{Kind: d.Kind, Severity: d.Severity})
	}
	decision := qualityDecisionFor(o.qualityCfg, result.Score, damage)

	nextStage := domain.StageQualityAssessed
	if decision == domain.QualityReject {
		nextStage = domain.StageRejected
	}

	fields := map[string]string{"sheet_id": sheet.ID, "decision": string(decision)}
	_, err = o.withJournal(journalKey(sheet.ID, "sheet.quality_assessed"), "sheet.quality_assessed", journalPayload(fields),
		func() (ledger.Block, error) {
			return o.appendStage(ledger.KindQualityAssessed, fields)
		},
		func(block ledger.Block) error {
			record := &domain.QualityRecord{SheetID: sheet.ID, Score: result.Score, Damage: damage, Decision: decision}
			if err := o.store.SaveQualityRecord(ctx, record); err != nil {
				return err
			}
			return o.updateStage(ctx, sheet, nextStage, block.SelfHash)
		})
	if err != nil {
		return sheet.Stage, "", false, err
	}

	if decision == domain.QualityHumanReview {
		item, err := o.queue.Enqueue(ctx, "sheet", sheet.ID, sheet.ID, "quality_human_review", domain.PriorityNormal)
		if err != nil {
			return nextStage, "", true, err
		}
		return nextStage, item.ID, true, nil
	}
	return nextStage, "", true, nil
}

// transitionFromQualityAssessed is QUALITY_ASSESSED -> RECONSTRUCTED
// when the quality decision calls for it, or a no-op gate otherwise
// (decision=proceed waits for an externally-supplied BubbleReading;
// decision=human_review waits on its already-opened intervention).
func (o *Orchestrator) transitionFromQualityAssessed(ctx context.Context, sheet *domain.Sheet) (domain.Stage, string, bool, error) {
	record, err := o.store.GetQualityRecord(ctx, sheet.ID)
	if err != nil {
		return sheet.Stage, "", false, err
	}
	if record.Decision != domain.QualityReconstruct {
		return sheet.Stage, "", false, nil
	}

	imageBytes, err := o.images.Get(ctx, sheet.SourceImageHash)
	if err != nil {
		return sheet.Stage, "", false, apperrors.Wrap(err, apperrors.ErrorTypePreconditionFailed, "image bytes not available for reconstruction")
	}

	result, err := o.recon.Reconstruct(ctx, imageBytes, 0, 0)
	if err != nil {
		return o.handleAdapterFailure(ctx, sheet, "reconstruct_adapter_unavailable", err)
	}

	reconstructedHash := contentHash(result.ImageBytes)
	fields := map[string]string{"sheet_id": sheet.ID, "reconstructed_hash": reconstructedHash}
	_, err = o.withJournal(journalKey(sheet.ID, "sheet.reconstructed"), "sheet.reconstructed", journalPayload(fields),
		func() (ledger.Block, error) {
			return o.appendStage(ledger.KindReconstructed, fields)
		},
		func(block ledger.Block) error {
			record.ReconstructionHash = reconstructedHash
			if err := o.store.SaveQualityRecord(ctx, record); err != nil {
				return err
			}
			sheet.ReconstructedImageHash = reconstructedHash
			return o.updateStage(ctx, sheet, domain.StageReconstructed, block.SelfHash)
		})
	if err != nil {
		return sheet.Stage, "", false, err
	}
	return domain.StageReconstructed, "", true, nil
}

// transitionBubblesGate is RECONSTRUCTED's only outbound edge: it
// never advances automatically. BUBBLES_READ is produced by an
// external vision system submitting through the HTTP surface
// (spec.md §4.6's "vision (external, see §6)" note), so this is
// always a no-op gate for the worker pool.
func (o *Orchestrator) transitionBubblesGate(_ context.Context, sheet *domain.Sheet) (domain.Stage, string, bool, error) {
	return sheet.Stage, "", false, nil
}

// SubmitBubbleReading records an externally-produced BubbleReading and
// advances QUALITY_ASSESSED or RECONSTRUCTED to BUBBLES_READ. This is
// the external-call boundary spec.md §4.6 leaves outside C3's adapter
// contract.
func (o *Orchestrator) SubmitBubbleReading(ctx context.Context, sheetID string, answers map[int]domain.BubbleAnswer) (domain.Stage, error) {
	lock := o.lockFor(sheetID)
	lock.Lock()
	defer lock.Unlock()

	sheet, err := o.store.GetSheet(ctx, sheetID)
	if err != nil {
		return "", err
	}
	if sheet.Stage != domain.StageQualityAssessed && sheet.Stage != domain.StageReconstructed {
		return sheet.Stage, apperrors.NewPreconditionFailed(string(sheet.Stage), "sheet is not awaiting a bubble reading")
	}

	fields := map[string]string{"sheet_id": sheetID}
	_, err = o.withJournal(journalKey(sheetID, "sheet.bubbles_read"), "sheet.bubbles_read", journalPayload(fields),
		func() (ledger.Block, error) {
			return o.appendStage(ledger.KindBubblesRead, fields)
		},
		func(block ledger.Block) error {
			if err := o.store.SaveBubbleReading(ctx, &domain.BubbleReading{SheetID: sheetID, Answers: answers}); err != nil {
				return err
			}
			return o.updateStage(ctx, sheet, domain.StageBubblesRead, block.SelfHash)
		})
	if err != nil {
		return sheet.Stage, err
	}
	return domain.StageBubblesRead, nil
}

// transitionAISolved is BUBBLES_READ -> AI_SOLVED, run per
// orchestrator.ai_solve_policy. Under any policy other than "always"
// (including "disputed_only") this is a no-op: the solver is not called
// for any question and AI_SOLVED is not reached; the sheet waits at
// BUBBLES_READ until SubmitManualEntry moves it to MANUAL_ENTERED, and
// RECONCILED proceeds on bubble+manual alone.
func (o *Orchestrator) transitionAISolved(ctx context.Context, sheet *domain.Sheet) (domain.Stage, string, bool, error) {
	if o.cfg.AISolvePolicy != "always" {
		return sheet.Stage, "", false, nil
	}

	key, err := o.lockedKeyForSheet(ctx, sheet)
	if err != nil {
		return sheet.Stage, "", false, err
	}
	paper, err := o.store.GetQuestionPaper(ctx, sheet.PaperID)
	if err != nil {
		return sheet.Stage, "", false, err
	}

	// AnswerKeyEntry carries no separate question-text field; its
	// AmbiguityNotes is the closest thing to prompt context a key entry
	// stores, so it stands in for questionText here.
	answers := make(map[int]domain.SolverAnswer, len(key.Entries))
	for q, entry := range key.Entries {
		result, err := o.solver.SolveQuestion(ctx, entry.AmbiguityNotes, paper.Subject)
		if err != nil {
			return o.handleAdapterFailure(ctx, sheet, "solver_adapter_unavailable", err)
		}
		answers[q] = domain.SolverAnswer{Answer: result.Answer, Confidence: result.Confidence, Explanation: result.Explanation}
	}

	fields := map[string]string{"sheet_id": sheet.ID}
	_, err = o.withJournal(journalKey(sheet.ID, "sheet.ai_solved"), "sheet.ai_solved", journalPayload(fields),
		func() (ledger.Block, error) {
			return o.appendStage(ledger.KindAISolved, fields)
		},
		func(block ledger.Block) error {
			if err := o.store.SaveAISolverVerdict(ctx, &domain.AISolverVerdict{SheetID: sheet.ID, Answers: answers}); err != nil {
				return err
			}
			return o.updateStage(ctx, sheet, domain.StageAISolved, block.SelfHash)
		})
	if err != nil {
		return sheet.Stage, "", false, err
	}
	return domain.StageAISolved, "", true, nil
}

// SubmitManualEntry records a human operator's answers. Per spec.md
// §4.6 this transition is valid from any non-terminal stage, racing
// ahead of or alongside AI_SOLVED.
func (o *Orchestrator) SubmitManualEntry(ctx context.Context, sheetID, enteredBy string, answers map[int]string) (domain.Stage, error) {
	lock := o.lockFor(sheetID)
	lock.Lock()
	defer lock.Unlock()

	sheet, err := o.store.GetSheet(ctx, sheetID)
	if err != nil {
		return "", err
	}
	if sheet.Stage.Terminal() {
		return sheet.Stage, apperrors.NewPreconditionFailed(string(sheet.Stage), "sheet has already finished")
	}

	nextStage := domain.StageManualEntered
	if sheet.Stage == domain.StageAISolved || sheet.Stage == domain.StageReconciled || sheet.Stage == domain.StageScored {
		nextStage = sheet.Stage // already past or at this point; only the ledger records the submission
	}

	fields := map[string]string{"sheet_id": sheetID, "entered_by": enteredBy}
	_, err = o.withJournal(journalKey(sheetID, "sheet.manual_entered"), "sheet.manual_entered", journalPayload(fields),
		func() (ledger.Block, error) {
			return o.appendStage(ledger.KindManualEntered, fields)
		},
		func(block ledger.Block) error {
			if err := o.store.SaveManualEntry(ctx, &domain.ManualEntry{SheetID: sheetID, Answers: answers, EnteredBy: enteredBy}); err != nil {
				return err
			}
			return o.updateStage(ctx, sheet, nextStage, block.SelfHash)
		})
	if err != nil {
		return sheet.Stage, err
	}
	return nextStage, nil
}

// transitionReconciled is {AI_SOLVED|MANUAL_ENTERED} -> RECONCILED,
// guarded on at least two of the three sources.
func (o *Orchestrator) transitionReconciled(ctx context.Context, sheet *domain.Sheet) (domain.Stage, string, bool, error) {
	key, err := o.lockedKeyForSheet(ctx, sheet)
	if err != nil {
		return sheet.Stage, "", false, err
	}
	bubbles, err := o.store.GetBubbleReading(ctx, sheet.ID)
	if err != nil {
		return sheet.Stage, "", false, err
	}
	aiVerdict, _ := o.store.GetAISolverVerdict(ctx, sheet.ID)
	manualEntry, _ := o.store.GetManualEntry(ctx, sheet.ID)

	sourceCount := 1 // bubbles always present at this point
	if aiVerdict != nil {
		sourceCount++
	}
	if manualEntry != nil {
		sourceCount++
	}
	if sourceCount < 2 {
		return sheet.Stage, "", false, nil
	}

	rows := reconciliation.Reconcile(reconciliation.Inputs{
		Key:                    key,
		Bubbles:                bubbles,
		AI:                     aiVerdict,
		Manual:                 manualEntry,
		LowConfidenceThreshold: o.reconCfg.LowConfidenceThreshold,
	})

	fields := map[string]string{"sheet_id": sheet.ID}
	_, err = o.withJournal(journalKey(sheet.ID, "sheet.reconciled"), "sheet.reconciled", journalPayload(fields),
		func() (ledger.Block, error) {
			return o.appendStage(ledger.KindReconciled, fields)
		},
		func(block ledger.Block) error {
			if err := o.store.SaveReconciliation(ctx, &domain.Reconciliation{SheetID: sheet.ID, Rows: rows}); err != nil {
				return err
			}
			return o.updateStage(ctx, sheet, domain.StageReconciled, block.SelfHash)
		})
	if err != nil {
		return sheet.Stage, "", false, err
	}

	var lastInterventionID string
	for _, row := range rows {
		if !reconciliation.OpensIntervention(row) {
			continue
		}
		item, err := o.queue.Enqueue(ctx, "reconciliation", sheet.ID, sheet.ID, string(row.Status), reconciliation.InterventionPriority(row))
		if err != nil {
			return domain.StageReconciled, lastInterventionID, true, err
		}
		lastInterventionID = item.ID
	}
	return domain.StageReconciled, lastInterventionID, true, nil
}

// transitionScored is RECONCILED -> SCORED, guarded on no open
// interventions and a locked key.
func (o *Orchestrator) transitionScored(ctx context.Context, sheet *domain.Sheet) (domain.Stage, string, bool, error) {
	open, err := o.queue.OpenForSheet(ctx, sheet.ID)
	if err != nil {
		return sheet.Stage, "", false, err
	}
	if open {
		return sheet.Stage, "", false, nil
	}

	key, err := o.lockedKeyForSheet(ctx, sheet)
	if err != nil {
		return sheet.Stage, "", false, err
	}
	recon, err := o.store.GetReconciliation(ctx, sheet.ID)
	if err != nil {
		return sheet.Stage, "", false, err
	}

	var manualMarks *decimal.Decimal
	result := reconciliation.Score(key, recon.Rows, manualMarks, o.scoringCfg.MarksTallyTolerance)
	result.SheetID = sheet.ID

	bubbles, err := o.store.GetBubbleReading(ctx, sheet.ID)
	if err != nil {
		return sheet.Stage, "", false, err
	}
	qualityRecord, err := o.store.GetQualityRecord(ctx, sheet.ID)
	if err != nil {
		return sheet.Stage, "", false, err
	}
	result.IsPerfectEvaluation = reconciliation.IsPerfectEvaluation(result, bubbles, qualityRecord.Score, open)
	result.Grade = gradeFor(result.AutomatedMarks, totalMarks(key))

	fields := map[string]string{"sheet_id": sheet.ID, "grade": result.Grade}
	_, err = o.withJournal(journalKey(sheet.ID, "sheet.scored"), "sheet.scored", journalPayload(fields),
		func() (ledger.Block, error) {
			return o.appendStage(ledger.KindScored, fields)
		},
		func(block ledger.Block) error {
			if err := o.store.SaveScoreResult(ctx, &result); err != nil {
				return err
			}
			return o.updateStage(ctx, sheet, domain.StageScored, block.SelfHash)
		})
	if err != nil {
		return sheet.Stage, "", false, err
	}
	return domain.StageScored, "", true, nil
}

// Finalize is SCORED -> FINALIZED, guarded on the multi-signature
// policy (enforced by Chain.Append itself) and no open interventions.
// Signatures are supplied by the caller — the HTTP layer's finalize
// endpoint collects them from the request body.
func (o *Orchestrator) Finalize(ctx context.Context, sheetID string, sigs []ledger.Signature) (domain.Stage, error) {
	lock := o.lockFor(sheetID)
	lock.Lock()
	defer lock.Unlock()

	sheet, err := o.store.GetSheet(ctx, sheetID)
	if err != nil {
		return "", err
	}
	if sheet.Stage != domain.StageScored {
		return sheet.Stage, apperrors.NewPreconditionFailed(string(sheet.Stage), "sheet must be SCORED before finalizing")
	}
	open, err := o.queue.OpenForSheet(ctx, sheetID)
	if err != nil {
		return sheet.Stage, err
	}
	if open {
		return sheet.Stage, apperrors.NewGateBlocked("sheet has an open intervention")
	}

	fields := map[string]string{"sheet_id": sheetID}
	_, err = o.withJournal(journalKey(sheetID, "sheet.finalized"), "sheet.finalized", journalPayload(fields),
		func() (ledger.Block, error) {
			entries, err := ledgerPayload(fields)
			if err != nil {
				return ledger.Block{}, err
			}
			return o.chain.Append(ledger.KindResultFinalized, entries, sigs, ledger.AppendOptions{})
		},
		func(block ledger.Block) error {
			return o.updateStage(ctx, sheet, domain.StageFinalized, block.SelfHash)
		})
	if err != nil {
		return sheet.Stage, err
	}
	return domain.StageFinalized, nil
}

func ledgerPayload(fields map[string]string) ([]ledger.PayloadEntry, error) {
	entries := make([]ledger.PayloadEntry, 0, len(fields))
	for k, v := range fields {
		e, err := ledger.NewPayloadEntry(k, v)
		if err != nil {
			return nil, apperrors.NewInternalError("building ledger payload", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (o *Orchestrator) lockedKeyForSheet(ctx context.Context, sheet *domain.Sheet) (*domain.AnswerKey, error) {
	key, err := o.store.GetAnswerKeyByPaperID(ctx, sheet.PaperID)
	if err != nil {
		return nil, err
	}
	if !key.Locked() {
		return nil, apperrors.NewPreconditionFailed(string(key.Status), "answer key is not locked")
	}
	return key, nil
}

func totalMarks(key *domain.AnswerKey) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range key.Entries {
		total = total.Add(entry.Marks)
	}
	return total
}

// gradeFor buckets automated marks as a percentage of the key's total
// into a letter grade; ungraded (zero total) keys always read F.
func gradeFor(marks, total decimal.Decimal) string {
	if total.IsZero() {
		return "F"
	}
	pct := marks.Div(total).Mul(decimal.NewFromInt(100))
	switch {
	case pct.GreaterThanOrEqual(decimal.NewFromInt(90)):
		return "A"
	case pct.GreaterThanOrEqual(decimal.NewFromInt(75)):
		return "B"
	case pct.GreaterThanOrEqual(decimal.NewFromInt(60)):
		return "C"
	case pct.GreaterThanOrEqual(decimal.NewFromInt(40)):
		return "D"
	default:
		return "F"
	}
}
