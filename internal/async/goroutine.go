package async

import (
	"fmt"
	"runtime/debug"
)

// PanicLogger captures panic reports from worker goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Safe wraps a worker function so a panic surfaces as an error for that item
// instead of tearing down the whole pool.
func Safe(logger PanicLogger, name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = PanicError(logger, name, r)
			}
		}()
		return fn()
	}
}

// PanicError logs a recovered value with its stack and returns it as an
// error. Call it from a deferred recover.
func PanicError(logger PanicLogger, name string, r any) error {
	logPanic(logger, name, r)
	return fmt.Errorf("panic in %s: %v", name, r)
}

func logPanic(logger PanicLogger, name string, r any) {
	if logger == nil {
		return
	}
	if name == "" {
		logger.Error("goroutine panic: %v, stack: %s", r, debug.Stack())
		return
	}
	logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
}
