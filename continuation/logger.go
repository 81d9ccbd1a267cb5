package continuation

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the logger for lifecycle transitions (resume, suspend,
// restore, done) and calls the tracker refused to intercept.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the logger. Continuations capture it in New, so
// existing continuations keep the previous one.
func SetLogger(l *zap.Logger) {
	logger = l
}
