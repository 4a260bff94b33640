package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
)

// Problem is an RFC-7807-style error body, grounded on the teacher's
// own handler error shape (type/title/detail), with an extension field
// for the one case the ledger needs it: a gate-blocked response names
// the intervention ids the caller must resolve first.
type Problem struct {
	Type            string   `json:"type"`
	Title           string   `json:"title"`
	Detail          string   `json:"detail"`
	InterventionIDs []string `json:"intervention_ids,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeProblem(w http.ResponseWriter, status int, typ, title, detail string) {
	writeJSON(w, status, Problem{Type: typ, Title: title, Detail: detail})
}

var errorTitles = map[apperrors.ErrorType]string{
	apperrors.ErrorTypeValidation:          "Validation Failed",
	apperrors.ErrorTypePreconditionFailed:  "Precondition Failed",
	apperrors.ErrorTypeGateBlocked:         "Blocked By Open Intervention",
	apperrors.ErrorTypeAdapterUnavailable:  "Adapter Unavailable",
	apperrors.ErrorTypeChainIntegrity:      "Ledger Integrity Failure",
	apperrors.ErrorTypeChainStale:          "Concurrent Ledger Write",
	apperrors.ErrorTypeSignatureInsufficient: "Insufficient Signatures",
	apperrors.ErrorTypeCancelled:           "Operation Cancelled",
	apperrors.ErrorTypeNotFound:            "Not Found",
	apperrors.ErrorTypeConflict:            "Conflict",
	apperrors.ErrorTypeInternal:            "Internal Error",
}

// writeError maps any error into a Problem response. *apperrors.AppError
// carries its own status code and type; anything else is a bug and
// surfaces as a bare 500 rather than leaking internals.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		log.Error("unclassified error reached the HTTP layer", zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "internal", "Internal Error", "an unexpected error occurred")
		return
	}

	title, ok := errorTitles[appErr.Type]
	if !ok {
		title = "Error"
	}
	detail := appErr.Message
	if appErr.Details != "" {
		detail = appErr.Message + ": " + appErr.Details
	}
	writeJSON(w, appErr.StatusCode, Problem{
		Type:            string(appErr.Type),
		Title:           title,
		Detail:          detail,
		InterventionIDs: appErr.InterventionIDs,
	})
}

// decodeAndValidate JSON-decodes r.Body into dst and runs struct-tag
// validation, returning a single ValidationError Problem-ready error for
// either failure so every handler maps malformed/invalid input the same
// way, per SPEC_FULL.md §6.1.
func decodeAndValidate(r *http.Request, v *validator.Validate, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.NewValidationError("malformed request body").WithDetails(err.Error())
	}
	if err := v.Struct(dst); err != nil {
		return apperrors.NewValidationError("request failed validation").WithDetails(err.Error())
	}
	return nil
}

// requestLogger logs method, path, status, and latency for every
// request, matching the corpus's structured-logging texture (zap
// fields, not printf).
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("latency", time.Since(start)))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
