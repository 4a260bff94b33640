package httpapi

import (
	"strconv"

	"github.com/google/uuid"

	apperrors "github.com/jordigilh/omr-ledger/internal/errors"
)

// handlers holds the bound *Context every route closes over. A plain
// struct rather than package-level functions, per SPEC_FULL.md §6.1's
// no-singleton rule.
type handlers struct {
	ctx *Context
}

func newID() string { return uuid.NewString() }

func itoa(n int) string { return strconv.Itoa(n) }

// questionKey parses a JSON-object string key back into a question
// number, rejecting anything that is not a positive integer.
func questionKey(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, apperrors.NewValidationError("question_number keys must be positive integers").WithDetails(s)
	}
	return n, nil
}
