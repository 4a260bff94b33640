package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
	"github.com/jordigilh/omr-ledger/pkg/domain"
	"github.com/jordigilh/omr-ledger/pkg/ledger"
)

func (h *handlers) ingestSheet(w http.ResponseWriter, r *http.Request) {
	var req ingestSheetRequest
	if err := decodeAndValidate(r, h.ctx.Validate, &req); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}

	imageBytes, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		writeError(w, h.ctx.Log, apperrors.NewValidationError("image_base64 is not valid base64"))
		return
	}
	sourceHash, err := h.ctx.Images.Put(r.Context(), imageBytes)
	if err != nil {
		writeError(w, h.ctx.Log, apperrors.NewInternalError("storing sheet image", err))
		return
	}

	sheet := &domain.Sheet{
		Base:            domain.Base{ID: newID()},
		ExamID:          req.ExamID,
		PaperID:         req.PaperID,
		RollNumber:      req.RollNumber,
		SourceImageHash: sourceHash,
		Stage:           domain.StageIngested,
		IngestSource:    req.IngestSource,
	}
	if err := h.ctx.Store.CreateSheet(r.Context(), sheet); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}

	payload, err := ledgerEntries(
		[]string{"sheet_id", sheet.ID},
		[]string{"exam_id", sheet.ExamID},
		[]string{"paper_id", sheet.PaperID},
		[]string{"roll_number", sheet.RollNumber},
		[]string{"source_image_hash", sheet.SourceImageHash},
	)
	if err != nil {
		writeError(w, h.ctx.Log, apperrors.NewInternalError("building ledger payload", err))
		return
	}
	block, err := h.ctx.Chain.Append(ledger.KindSheetIngested, payload, nil, ledger.AppendOptions{})
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	if err := h.ctx.Store.UpdateSheetStage(r.Context(), sheet.ID, domain.StageIngested, block.SelfHash); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}

	if h.ctx.Orchestrator != nil {
		h.ctx.Orchestrator.Enqueue(sheet.ID)
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":              sheet.ID,
		"last_block_hash": block.SelfHash,
	})
}

func (h *handlers) getSheet(w http.ResponseWriter, r *http.Request) {
	agg, err := h.ctx.Store.GetSheetWithRelations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// advanceStage returns a handler that runs exactly one orchestrator
// transition for a sheet it expects to find at fromStage. A sheet
// found at any other stage fails fast with PreconditionFailed instead
// of silently advancing through stages the caller didn't ask for.
func (h *handlers) advanceStage(fromStage domain.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sheet, err := h.ctx.Store.GetSheet(r.Context(), id)
		if err != nil {
			writeError(w, h.ctx.Log, err)
			return
		}
		if sheet.Stage != fromStage {
			writeError(w, h.ctx.Log, apperrors.NewPreconditionFailed(string(sheet.Stage), "sheet is not at the expected stage for this transition"))
			return
		}
		stage, interventionID, advanced, err := h.ctx.Orchestrator.AdvanceOne(r.Context(), id)
		if err != nil {
			writeError(w, h.ctx.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"stage":           stage,
			"advanced":        advanced,
			"intervention_id": interventionID,
		})
	}
}

// advanceReconcile is advanceStage's one two-entry-stage exception:
// reconciliation is reachable from either AI_SOLVED or MANUAL_ENTERED
// (spec.md §4.6's "AI_SOLVED optional, parallel with MANUAL_ENTERED").
func (h *handlers) advanceReconcile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sheet, err := h.ctx.Store.GetSheet(r.Context(), id)
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	if sheet.Stage != domain.StageAISolved && sheet.Stage != domain.StageManualEntered {
		writeError(w, h.ctx.Log, apperrors.NewPreconditionFailed(string(sheet.Stage), "sheet must be at AI_SOLVED or MANUAL_ENTERED to reconcile"))
		return
	}
	stage, interventionID, advanced, err := h.ctx.Orchestrator.AdvanceOne(r.Context(), id)
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stage":           stage,
		"advanced":        advanced,
		"intervention_id": interventionID,
	})
}

func (h *handlers) submitBubbles(w http.ResponseWriter, r *http.Request) {
	var req submitBubblesRequest
	if err := decodeAndValidate(r, h.ctx.Validate, &req); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	answers, err := toBubbleAnswers(req.Answers)
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	stage, err := h.ctx.Orchestrator.SubmitBubbleReading(r.Context(), chi.URLParam(r, "id"), answers)
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stage": string(stage)})
}

func toBubbleAnswers(in map[string]bubbleAnswerRequest) (map[int]domain.BubbleAnswer, error) {
	out := make(map[int]domain.BubbleAnswer, len(in))
	for k, v := range in {
		num, err := questionKey(k)
		if err != nil {
			return nil, err
		}
		out[num] = domain.BubbleAnswer{Answer: domain.DetectedAnswer(v.Answer), Confidence: v.Confidence}
	}
	return out, nil
}

func (h *handlers) submitManual(w http.ResponseWriter, r *http.Request) {
	var req submitManualRequest
	if err := decodeAndValidate(r, h.ctx.Validate, &req); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	answers := make(map[int]string, len(req.Answers))
	for k, v := range req.Answers {
		num, err := questionKey(k)
		if err != nil {
			writeError(w, h.ctx.Log, err)
			return
		}
		answers[num] = v
	}
	stage, err := h.ctx.Orchestrator.SubmitManualEntry(r.Context(), chi.URLParam(r, "id"), req.EnteredBy, answers)
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stage": string(stage)})
}

func (h *handlers) finalizeSheet(w http.ResponseWriter, r *http.Request) {
	var req finalizeSheetRequest
	if err := decodeAndValidate(r, h.ctx.Validate, &req); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	sigs := make([]ledger.Signature, len(req.Signatures))
	for i, s := range req.Signatures {
		sigs[i] = ledger.Signature{SignerKind: s.SignerKind, SignerKey: s.SignerKey, Signature: s.Signature}
	}
	stage, err := h.ctx.Orchestrator.Finalize(r.Context(), chi.URLParam(r, "id"), sigs)
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stage": string(stage)})
}
