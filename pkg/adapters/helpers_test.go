package adapters_test

import (
	"context"
	"errors"
)

func newCtx() context.Context {
	return context.Background()
}

func errorsAs(err error, target interface{}) bool {
	return errors.As(err, target)
}
