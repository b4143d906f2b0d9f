package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic turns a recovered value into ErrInternal. The result is fatal
// so retry loops hand the input to their dead-letter path instead of
// panicking again.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}
	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("panic: %v", r)
	}
	return ErrInternal.
		WithCause(cause).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack())).
		AsFatal()
}
