package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jordigilh/omr-ledger/pkg/domain"
	"github.com/jordigilh/omr-ledger/pkg/store"
)

func (h *handlers) listInterventions(w http.ResponseWriter, r *http.Request) {
	filter := store.InterventionFilter{}
	if v := r.URL.Query().Get("status"); v != "" {
		filter = filter.WithStatus(domain.InterventionStatus(v))
	}
	if v := r.URL.Query().Get("priority"); v != "" {
		filter = filter.WithPriority(domain.InterventionPriority(v))
	}
	items, err := h.ctx.Store.ListInterventions(r.Context(), filter)
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"interventions": items})
}

func (h *handlers) claimIntervention(w http.ResponseWriter, r *http.Request) {
	var req claimInterventionRequest
	if err := decodeAndValidate(r, h.ctx.Validate, &req); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	item, err := h.ctx.Queue.Claim(r.Context(), chi.URLParam(r, "id"), req.Assignee)
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *handlers) resolveIntervention(w http.ResponseWriter, r *http.Request) {
	var req resolveInterventionRequest
	if err := decodeAndValidate(r, h.ctx.Validate, &req); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	item, err := h.ctx.Queue.Resolve(r.Context(), chi.URLParam(r, "id"), req.Assignee, req.ResolutionNote)
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
