// Package logging holds the process-wide structured logger. The default is
// a no-op logger so that embedding applications stay silent unless they opt
// in. Log output is diagnostic only and never feeds back into replicated
// state.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
)

// SetLogger replaces the process-wide logger. A nil logger restores the
// no-op default.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// Logger returns the current process-wide logger.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Named returns the current logger scoped with the given name.
func Named(name string) *zap.Logger {
	return Logger().Named(name)
}

// Development builds a console logger suitable for tests and local runs.
func Development() (*zap.Logger, error) {
	return zap.NewDevelopment()
}
