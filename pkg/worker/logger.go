package worker

import "asanahooks/internal"

// Logger is the logging surface the worker needs.
type Logger interface {
	Printf(format string, args ...interface{})
}

type stdLogger struct{}

func (stdLogger) Printf(format string, args ...interface{}) {
	defaultWorkerLogger.Printf(format, args...)
}

var defaultWorkerLogger = internal.NewLogger("worker")
