// Package faulttolerance provides retry and circuit breaker helpers for
// broker connections and publishes.
package faulttolerance

import "github.com/sirupsen/logrus"

// NewLogger returns a text logger with full timestamps at level. Unknown
// levels fall back to info.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return logger
}
