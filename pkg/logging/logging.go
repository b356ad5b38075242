package logging

// Logger is the logging interface used across the gateway. It is satisfied
// by the logrus adapter in this package.
type Logger interface {
	// WithField creates a new logger with an additional field
	WithField(key string, value interface{}) Logger
	// WithFields creates a new logger with additional fields
	WithFields(fields map[string]interface{}) Logger
	// WithError creates a new logger with an error field
	WithError(err error) Logger

	Warnf(format string, args ...interface{})

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}
