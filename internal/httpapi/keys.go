package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
	"github.com/jordigilh/omr-ledger/pkg/domain"
	"github.com/jordigilh/omr-ledger/pkg/ledger"
)

func (h *handlers) createKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := decodeAndValidate(r, h.ctx.Validate, &req); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}

	entries := make(map[int]domain.AnswerKeyEntry, len(req.Entries))
	for _, e := range req.Entries {
		marks, err := decimal.NewFromString(e.Marks)
		if err != nil {
			writeError(w, h.ctx.Log, apperrors.NewValidationError("marks must be a decimal number").WithDetails(e.Marks))
			return
		}
		entries[e.QuestionNumber] = domain.AnswerKeyEntry{
			QuestionNumber: e.QuestionNumber,
			ExpectedAnswer: e.ExpectedAnswer,
			Marks:          marks,
			AmbiguityNotes: e.AmbiguityNotes,
		}
	}

	key := &domain.AnswerKey{
		Base:    domain.Base{ID: newID()},
		PaperID: req.PaperID,
		Status:  domain.AnswerKeyDraft,
		Entries: entries,
	}
	if err := h.ctx.Store.CreateAnswerKey(r.Context(), key); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (h *handlers) getKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.ctx.Store.GetAnswerKey(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// verifyKey runs verify_answer_key over every entry. Disagreements open
// an intervention (unpinned to any sheet — no sheet exists yet at key
// review time) and move the key to "flagged" rather than "ai_verified".
// AmbiguityNotes stands in for the question text VerifyAnswerKey
// expects, matching pkg/orchestrator.transitionAISolved's own reuse of
// that field: domain.AnswerKeyEntry has no dedicated question-text field.
func (h *handlers) verifyKey(w http.ResponseWriter, r *http.Request) {
	if h.ctx.KeyVerifier == nil {
		writeError(w, h.ctx.Log, apperrors.NewAdapterUnavailable("verify_answer_key", nil))
		return
	}
	key, err := h.ctx.Store.GetAnswerKey(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}

	disagreements := 0
	var lastIntervention string
	for num, entry := range key.Entries {
		result, err := h.ctx.KeyVerifier.VerifyAnswerKey(r.Context(), entry.AmbiguityNotes, entry.ExpectedAnswer)
		if err != nil {
			writeError(w, h.ctx.Log, apperrors.NewAdapterUnavailable("verify_answer_key", err))
			return
		}
		if !result.Agrees {
			disagreements++
			item, ierr := h.ctx.Queue.Enqueue(r.Context(), "answer_key", key.ID, "", "key_ai_disagreement", domain.PriorityHigh)
			if ierr != nil {
				writeError(w, h.ctx.Log, ierr)
				return
			}
			lastIntervention = item.ID
			entry.AmbiguityNotes = result.Notes
			key.Entries[num] = entry
		}
	}

	key.Status = domain.AnswerKeyAIVerified
	if disagreements > 0 {
		key.Status = domain.AnswerKeyFlagged
	}

	payload, err := ledgerEntries(
		[]string{"key_id", key.ID},
		[]string{"paper_id", key.PaperID},
		[]string{"disagreement_count", itoa(disagreements)},
	)
	if err != nil {
		writeError(w, h.ctx.Log, apperrors.NewInternalError("building ledger payload", err))
		return
	}
	block, err := h.ctx.Chain.Append(ledger.KindAnswerKeyAIVerified, payload, nil, ledger.AppendOptions{})
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	key.LastBlockHash = block.SelfHash
	if err := h.ctx.Store.UpdateAnswerKey(r.Context(), key); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}

	resp := map[string]interface{}{
		"status":              key.Status,
		"disagreement_count":  disagreements,
		"last_block_hash":     block.SelfHash,
	}
	if lastIntervention != "" {
		resp["intervention_id"] = lastIntervention
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) approveKey(w http.ResponseWriter, r *http.Request) {
	var req approveKeyRequest
	if err := decodeAndValidate(r, h.ctx.Validate, &req); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	key, err := h.ctx.Store.GetAnswerKey(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	if key.Locked() {
		writeError(w, h.ctx.Log, apperrors.NewPreconditionFailed(string(key.Status), "key is already locked"))
		return
	}

	for numStr, corrected := range req.Corrections {
		num, err := questionKey(numStr)
		if err != nil {
			writeError(w, h.ctx.Log, err)
			return
		}
		entry, ok := key.Entries[num]
		if !ok {
			writeError(w, h.ctx.Log, apperrors.NewValidationError("correction references unknown question_number").WithDetails(numStr))
			return
		}
		entry.ExpectedAnswer = corrected
		key.Entries[num] = entry
	}
	key.Status = domain.AnswerKeyHumanApproved

	payload, err := ledgerEntries(
		[]string{"key_id", key.ID},
		[]string{"paper_id", key.PaperID},
		[]string{"correction_count", itoa(len(req.Corrections))},
	)
	if err != nil {
		writeError(w, h.ctx.Log, apperrors.NewInternalError("building ledger payload", err))
		return
	}
	block, err := h.ctx.Chain.Append(ledger.KindAnswerKeyHumanApproved, payload, nil, ledger.AppendOptions{})
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	key.LastBlockHash = block.SelfHash
	if err := h.ctx.Store.UpdateAnswerKey(r.Context(), key); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(key.Status), "last_block_hash": block.SelfHash})
}

func (h *handlers) lockKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.ctx.Store.GetAnswerKey(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	if key.Status != domain.AnswerKeyHumanApproved && key.Status != domain.AnswerKeyAIVerified {
		writeError(w, h.ctx.Log, apperrors.NewPreconditionFailed(string(key.Status), "key must be ai_verified or human_approved before it can be locked"))
		return
	}

	payload, err := ledgerEntries(
		[]string{"key_id", key.ID},
		[]string{"paper_id", key.PaperID},
	)
	if err != nil {
		writeError(w, h.ctx.Log, apperrors.NewInternalError("building ledger payload", err))
		return
	}
	block, err := h.ctx.Chain.Append(ledger.KindAnswerKeyLocked, payload, nil, ledger.AppendOptions{})
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	key.Status = domain.AnswerKeyLocked
	key.LastBlockHash = block.SelfHash
	if err := h.ctx.Store.UpdateAnswerKey(r.Context(), key); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(key.Status), "last_block_hash": block.SelfHash})
}
