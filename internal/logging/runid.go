package logging

// WithRunID returns a logger that tags every line with the goal run id, so
// interleaved runs in the shared debug log can be pulled apart.
func WithRunID(logger Logger, runID string) Logger {
	if IsNil(logger) {
		return Nop()
	}
	if runID == "" {
		return logger
	}
	return &runIDLogger{logger: logger, runID: runID}
}

type runIDLogger struct {
	logger Logger
	runID  string
}

func (l *runIDLogger) Debug(format string, args ...any) {
	l.logger.Debug(prefixRunID(l.runID, format), args...)
}

func (l *runIDLogger) Info(format string, args ...any) {
	l.logger.Info(prefixRunID(l.runID, format), args...)
}

func (l *runIDLogger) Warn(format string, args ...any) {
	l.logger.Warn(prefixRunID(l.runID, format), args...)
}

func (l *runIDLogger) Error(format string, args ...any) {
	l.logger.Error(prefixRunID(l.runID, format), args...)
}

func prefixRunID(runID, format string) string {
	if runID == "" {
		return format
	}
	return "run=" + runID + " " + format
}
