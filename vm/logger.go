package vm

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the default logger for new VMs. VMs log class loading,
// rejected entry expectations and scheduler steps at debug level.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the default logger for VMs created afterwards.
func SetLogger(l *zap.Logger) {
	logger = l
}
