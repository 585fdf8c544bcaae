// Package xlog configures the daemon's structured logger and provides
// context-scoped helpers (by slave, rule, relay) used throughout the tick
// loop.
package xlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logger instance.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// SetLevel parses and applies a log level string (e.g. "debug", "warn").
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

// SetOutput redirects log output.
func SetOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// SetJSON switches to JSON-formatted log lines.
func SetJSON() {
	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
}

// WithSlave scopes a logger to a slave UUID.
func WithSlave(uuid string) *logrus.Entry {
	return Logger.WithField("slave", uuid)
}

// WithPort scopes a logger to a serial device path.
func WithPort(port string) *logrus.Entry {
	return Logger.WithField("port", port)
}

// WithRule scopes a logger to a rule UUID.
func WithRule(uuid string) *logrus.Entry {
	return Logger.WithField("rule", uuid)
}

// WithRelay scopes a logger to a relay UUID.
func WithRelay(uuid string) *logrus.Entry {
	return Logger.WithField("relay", uuid)
}

// WithTick scopes a logger to a tick sequence number.
func WithTick(n uint64) *logrus.Entry {
	return Logger.WithField("tick", n)
}
