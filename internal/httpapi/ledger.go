package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
)

func (h *handlers) ledgerStatus(w http.ResponseWriter, r *http.Request) {
	head, ok := h.ctx.Chain.Head()
	resp := map[string]interface{}{
		"length":    h.ctx.Chain.Len(),
		"read_only": h.ctx.Chain.ReadOnly(),
	}
	if ok {
		resp["head_index"] = head.Index
		resp["head_hash"] = head.SelfHash
	}
	writeJSON(w, http.StatusOK, resp)
}

// ledgerBlocks paginates forward from "after" (an index, exclusive),
// returning up to "limit" blocks in ascending order. Both query
// parameters are optional; a missing "after" starts from the genesis
// end of the chain.
func (h *handlers) ledgerBlocks(w http.ResponseWriter, r *http.Request) {
	after := int64(-1)
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, h.ctx.Log, apperrors.NewValidationError("after must be an integer block index"))
			return
		}
		after = n
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, h.ctx.Log, apperrors.NewValidationError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	total := h.ctx.Chain.Len()
	blocks := make([]interface{}, 0, limit)
	for idx := after + 1; idx < total && len(blocks) < limit; idx++ {
		b, ok := h.ctx.Chain.GetByIndex(idx)
		if !ok {
			break
		}
		blocks = append(blocks, b)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"blocks": blocks})
}

func (h *handlers) ledgerBlock(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	b, ok := h.ctx.Chain.GetByHash(hash)
	if !ok {
		writeError(w, h.ctx.Log, apperrors.NewNotFoundError("block "+hash))
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handlers) ledgerValidate(w http.ResponseWriter, r *http.Request) {
	if err := h.ctx.Chain.Validate(); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}
