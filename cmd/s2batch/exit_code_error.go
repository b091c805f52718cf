package main

// ExitCodeError wraps an error with a specific process exit code.
//
// Commands return plain errors for fatal failures (exit 1). ExitCodeError is
// used where scripts need stable codes: validation errors and runs that
// finished with offline or failed items.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
