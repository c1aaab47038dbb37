package services

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the application logger shared by every package.
var Log = logrus.StandardLogger()

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"` // text or json
}

// ConfigureLogger applies cfg to Log. An unknown level falls back to info.
func ConfigureLogger(cfg LogConfig) {
	Log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		Log.SetFormatter(&logrus.JSONFormatter{})
	default:
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
