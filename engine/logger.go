package engine

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the package fallback logger used when Config.Logger is
// nil. It is a no-op logger unless replaced with SetLogger before first use.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger replaces the fallback logger. It has no effect after the first
// call to Logger.
func SetLogger(l *zap.Logger) {
	loggerOnce.Do(func() {
		logger = l
		if logger == nil {
			logger = zap.NewNop()
		}
	})
}
