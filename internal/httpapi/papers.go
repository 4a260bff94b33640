package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
	"github.com/jordigilh/omr-ledger/pkg/domain"
	"github.com/jordigilh/omr-ledger/pkg/ledger"
)

func (h *handlers) createPaper(w http.ResponseWriter, r *http.Request) {
	var req createPaperRequest
	if err := decodeAndValidate(r, h.ctx.Validate, &req); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}

	maxMarks, err := decimal.NewFromString(req.MaxMarks)
	if err != nil {
		writeError(w, h.ctx.Log, apperrors.NewValidationError("max_marks must be a decimal number").WithDetails(req.MaxMarks))
		return
	}

	paper := &domain.QuestionPaper{
		Base:           domain.Base{ID: newID()},
		ExamID:         req.ExamID,
		Subject:        req.Subject,
		TotalQuestions: req.TotalQuestions,
		MaxMarks:       maxMarks,
		ContentHash:    req.ContentHash,
		Version:        1,
	}
	if err := h.ctx.Store.CreateQuestionPaper(r.Context(), paper); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}

	payload, err := ledgerEntries(
		[]string{"paper_id", paper.ID},
		[]string{"exam_id", paper.ExamID},
		[]string{"subject", paper.Subject},
		[]string{"content_hash", paper.ContentHash},
	)
	if err != nil {
		writeError(w, h.ctx.Log, apperrors.NewInternalError("building ledger payload", err))
		return
	}
	block, err := h.ctx.Chain.Append(ledger.KindQuestionPaperUpload, payload, nil, ledger.AppendOptions{})
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	if err := h.ctx.Store.UpdateQuestionPaperLedgerHash(r.Context(), paper.ID, block.SelfHash); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":              paper.ID,
		"last_block_hash": block.SelfHash,
	})
}

func (h *handlers) getPaper(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	paper, err := h.ctx.Store.GetQuestionPaper(r.Context(), id)
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, paper)
}

// ledgerEntries hashes an ordered set of (key, value) pairs into
// PayloadEntry values, the one funnel every non-sheet-stage ledger
// append in this package uses (pkg/orchestrator's stages.go does the
// equivalent for sheet-stage transitions). Pairs are passed as
// [2]string-shaped slices and kept in call order so the same logical
// payload always hashes to the same merkle root, unlike ranging over a
// map.
func ledgerEntries(pairs ...[]string) ([]ledger.PayloadEntry, error) {
	entries := make([]ledger.PayloadEntry, 0, len(pairs))
	for _, p := range pairs {
		e, err := ledger.NewPayloadEntry(p[0], p[1])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
