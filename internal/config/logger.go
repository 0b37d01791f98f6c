package config

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is used before the configured logger exists.
var Logger = logrus.New()

// NewLogger builds a logger for the given level ("debug", "info", ...) and
// format ("text" or "json"). Unknown levels fall back to info.
func NewLogger(level, format string) *logrus.Logger {
	l := logrus.New()
	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}
