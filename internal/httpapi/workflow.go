package httpapi

import "net/http"

// workflowComplete runs every stage transition a sheet is currently
// eligible for, per spec.md §4.6's workflow/complete endpoint, and
// reports where it stopped plus any interventions opened along the way.
func (h *handlers) workflowComplete(w http.ResponseWriter, r *http.Request) {
	var req workflowCompleteRequest
	if err := decodeAndValidate(r, h.ctx.Validate, &req); err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	stage, interventionIDs, err := h.ctx.Orchestrator.RunUntilGate(r.Context(), req.SheetID)
	if err != nil {
		writeError(w, h.ctx.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stage":            stage,
		"intervention_ids": interventionIDs,
	})
}
