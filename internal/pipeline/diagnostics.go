package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// Severity grades a diagnostic.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Diagnostic is one message surfaced to the caller.
type Diagnostic struct {
	Time     time.Time
	Severity Severity
	Stage    string
	Message  string
}

// diagnostics is a logging.Logger that keeps what it is given. Debug output
// is dropped.
type diagnostics struct {
	mu    sync.Mutex
	stage string
	items []Diagnostic
	now   func() time.Time
}

func (d *diagnostics) setStage(stage string) {
	d.mu.Lock()
	d.stage = stage
	d.mu.Unlock()
}

func (d *diagnostics) Debug(string, ...any) {}

func (d *diagnostics) Info(format string, args ...any) { d.add(SeverityInfo, format, args...) }

func (d *diagnostics) Warn(format string, args ...any) { d.add(SeverityWarning, format, args...) }

func (d *diagnostics) Error(format string, args ...any) { d.add(SeverityError, format, args...) }

func (d *diagnostics) fatal(err error) { d.add(SeverityFatal, "%v", err) }

func (d *diagnostics) add(sev Severity, format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, Diagnostic{
		Time:     d.now(),
		Severity: sev,
		Stage:    d.stage,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (d *diagnostics) snapshot() []Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Diagnostic(nil), d.items...)
}
