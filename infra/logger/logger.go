package logger

// Logger defines the minimal leveled logging interface used across the
// service.
type Logger interface {
	Debugf(format string, args ...any)
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// New returns the default logger implementation for a component.
func New(component string) Logger {
	return NewZerologLogger(component)
}

// NopLogger discards all log output. Useful in tests.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)          {}
func (NopLogger) Debugw(string, map[string]any)  {}
func (NopLogger) Infof(string, ...any)           {}
func (NopLogger) Warnf(string, ...any)           {}
func (NopLogger) Errorf(string, ...any)          {}
