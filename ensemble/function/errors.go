package function

import (
	"errors"
	"fmt"
)

// ErrCyclicReference and ErrDepthExceeded mirror the ensemble package's
// sentinel-error pattern (errors.go) for the two structural failure
// modes unique to a recursive Function tree (spec §9 "Cyclic-reference
// risk").
var (
	ErrCyclicReference = errors.New("function: cyclic reference")
	ErrDepthExceeded   = errors.New("function: nesting exceeds configured depth")
	ErrNotFound        = errors.New("function: reference not found")
	ErrSwissNotVector  = errors.New("function: swiss tournament requires a vector function")
)

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func wrapf(format string, args ...interface{}) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}
