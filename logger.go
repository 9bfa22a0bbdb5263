package proxyfleet

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the package-wide logger used by every component in the fleet:
// the auth cache and reconciler, the HTTP and SOCKS5 pipelines, and the
// fleet supervisor. cmd/proxyfleetd reconfigures its level and formatter
// from the log4rs config file named in the toml config; nothing in this
// package should ever replace the variable itself, only log through it.
var Log = newDefaultLogger()

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}
