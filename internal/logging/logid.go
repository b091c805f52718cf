package logging

import "fmt"

type runIDCapable interface {
	WithRunID(string) Logger
}

// WithRunID returns a logger that tags log lines with a pipeline run id.
func WithRunID(logger Logger, runID string) Logger {
	if IsNil(logger) {
		return Nop()
	}
	if runID == "" {
		return logger
	}
	if capable, ok := logger.(runIDCapable); ok {
		return capable.WithRunID(runID)
	}
	return &prefixLogger{base: logger, prefix: fmt.Sprintf("[run:%s] ", runID)}
}

func (l *observabilityPrintfLogger) WithRunID(runID string) Logger {
	return &observabilityPrintfLogger{logger: l.logger.With("run_id", runID)}
}

func (l *multiLogger) WithRunID(runID string) Logger {
	tagged := make([]Logger, 0, len(l.loggers))
	for _, logger := range l.loggers {
		tagged = append(tagged, WithRunID(logger, runID))
	}
	return &multiLogger{loggers: tagged}
}

type prefixLogger struct {
	base   Logger
	prefix string
}

func (l *prefixLogger) Debug(format string, args ...any) { l.base.Debug(l.prefix+format, args...) }
func (l *prefixLogger) Info(format string, args ...any)  { l.base.Info(l.prefix+format, args...) }
func (l *prefixLogger) Warn(format string, args ...any)  { l.base.Warn(l.prefix+format, args...) }
func (l *prefixLogger) Error(format string, args ...any) { l.base.Error(l.prefix+format, args...) }
