// Package telemetry provides the structured logger used by the tree core to
// report fatal store failures and clone lifecycle events. Hot-path
// operations (lookup, insert, remove) never log.
package telemetry

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once   sync.Once
	logger *logrus.Logger
)

// Log returns the process-wide logger, initialized on first use.
func Log() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.SetLevel(logrus.InfoLevel)
	})
	return logger
}

// SetLevel adjusts the logger's verbosity (for example logrus.FatalLevel to
// silence clone lifecycle events).
func SetLevel(level logrus.Level) {
	Log().SetLevel(level)
}

// Fatalf logs a logic-invariant violation or store failure and aborts the
// process, matching the source's oc_utl_assert semantics: these are
// assertions, never user-facing errors.
func Fatalf(fields logrus.Fields, format string, args ...interface{}) {
	Log().WithFields(fields).Fatalf(format, args...)
}

// CloneEvent logs a clone-registry lifecycle transition (birth or death of a
// tid). These are the only steady-state events the core logs.
func CloneEvent(event string, tid uint64, rootAddr uint64) {
	Log().WithFields(logrus.Fields{
		"event":     event,
		"tid":       tid,
		"root_addr": rootAddr,
	}).Info("clone registry event")
}
