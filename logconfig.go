package proxyfleet

import (
	"io"
	"os"

	syslog "github.com/RackSec/srslog"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// LogConfig is the shape of the YAML file named by the toml config's
// log.config field: a lightweight stand-in for a log4rs-style config,
// reduced to a level, a format and an optional syslog sink.
type LogConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"`
	Syslog *SyslogConfig `yaml:"syslog"`
}

type SyslogConfig struct {
	Network string `yaml:"network"`
	Address string `yaml:"address"`
	Tag     string `yaml:"tag"`
}

// ParseLogLevel exposes logrus's level parser so cmd/proxyfleetd can apply a
// top-level toml log.level override without importing logrus itself.
func ParseLogLevel(s string) (logrus.Level, error) {
	return logrus.ParseLevel(s)
}

// ConfigureLog applies path (if non-empty) to Log, falling back to the
// package defaults for anything the file doesn't set. A missing or empty
// path is not an error.
func ConfigureLog(path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "log config: read")
	}
	var cfg LogConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return errors.Wrap(err, "log config: parse")
	}

	if cfg.Level != "" {
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return errors.Wrapf(err, "log config: level %q", cfg.Level)
		}
		Log.SetLevel(level)
	}

	switch cfg.Format {
	case "json":
		Log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return errors.Errorf("log config: unsupported format %q", cfg.Format)
	}

	if cfg.Syslog != nil {
		writer, err := syslog.Dial(cfg.Syslog.Network, cfg.Syslog.Address, syslog.LOG_INFO, cfg.Syslog.Tag)
		if err != nil {
			return errors.Wrap(err, "log config: dial syslog")
		}
		Log.SetOutput(io.MultiWriter(os.Stderr, writer))
	}
	return nil
}
