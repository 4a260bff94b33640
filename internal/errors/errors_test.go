package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
)

func TestErrors(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Structured Errors Suite")
}

var _ = Describe("AppError", func() {
	Context("basic error creation", func() {
		It("should create an error with correct properties", func() {
			err := apperrors.New(apperrors.ErrorTypeValidation, "test message")

			Expect(err.Type).To(Equal(apperrors.ErrorTypeValidation))
			Expect(err.Message).To(Equal("test message"))
			Expect(err.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(err.Details).To(BeEmpty())
			Expect(err.Cause).To(BeNil())
		})

		It("should implement the error interface", func() {
			err := apperrors.New(apperrors.ErrorTypeValidation, "test message")
			Expect(err.Error()).To(Equal("validation: test message"))
		})

		It("should include details in the error string when present", func() {
			err := apperrors.New(apperrors.ErrorTypeValidation, "test message").WithDetails("extra info")
			Expect(err.Error()).To(Equal("validation: test message (extra info)"))
		})
	})

	Context("error wrapping", func() {
		It("should wrap an underlying error", func() {
			original := stderrors.New("original error")
			wrapped := apperrors.Wrap(original, apperrors.ErrorTypeChainStale, "append failed")

			Expect(wrapped.Cause).To(Equal(original))
			Expect(wrapped.Unwrap()).To(Equal(original))
		})
	})

	Context("HTTP status code mapping", func() {
		It("should map every error type to its designed status code", func() {
			cases := []struct {
				t      apperrors.ErrorType
				status int
			}{
				{apperrors.ErrorTypeValidation, http.StatusBadRequest},
				{apperrors.ErrorTypePreconditionFailed, http.StatusConflict},
				{apperrors.ErrorTypeGateBlocked, http.StatusUnprocessableEntity},
				{apperrors.ErrorTypeAdapterUnavailable, http.StatusServiceUnavailable},
				{apperrors.ErrorTypeChainIntegrity, http.StatusServiceUnavailable},
				{apperrors.ErrorTypeChainStale, http.StatusInternalServerError},
				{apperrors.ErrorTypeSignatureInsufficient, http.StatusUnprocessableEntity},
				{apperrors.ErrorTypeCancelled, http.StatusRequestTimeout},
				{apperrors.ErrorTypeNotFound, http.StatusNotFound},
				{apperrors.ErrorTypeConflict, http.StatusConflict},
				{apperrors.ErrorTypeInternal, http.StatusInternalServerError},
			}

			for _, c := range cases {
				err := apperrors.New(c.t, "msg")
				Expect(err.StatusCode).To(Equal(c.status), "type %s", c.t)
			}
		})
	})

	Context("gate-blocked intervention ids", func() {
		It("should carry intervention ids for callers to act on", func() {
			err := apperrors.NewGateBlocked("sheet pinned", "iv-1", "iv-2")
			Expect(err.InterventionIDs).To(Equal([]string{"iv-1", "iv-2"}))
		})
	})

	Context("type checking", func() {
		It("should correctly identify error types", func() {
			validationErr := apperrors.NewValidationError("bad input")
			Expect(apperrors.IsType(validationErr, apperrors.ErrorTypeValidation)).To(BeTrue())
			Expect(apperrors.IsType(validationErr, apperrors.ErrorTypeConflict)).To(BeFalse())
		})

		It("should return false for non-AppError values", func() {
			Expect(apperrors.IsType(stderrors.New("plain"), apperrors.ErrorTypeValidation)).To(BeFalse())
		})
	})

	Context("predefined constructors", func() {
		It("should build a signature-insufficient error with counts in details", func() {
			err := apperrors.NewSignatureInsufficient(2, 3)
			Expect(err.Type).To(Equal(apperrors.ErrorTypeSignatureInsufficient))
			Expect(err.Details).To(ContainSubstring("have 2"))
			Expect(err.Details).To(ContainSubstring("need 3"))
		})

		It("should build a chain-integrity error referencing the offending index", func() {
			cause := stderrors.New("hash mismatch")
			err := apperrors.NewChainIntegrityError(5, cause)
			Expect(err.Cause).To(Equal(cause))
			Expect(err.Message).To(ContainSubstring("block 5"))
		})
	})
})
