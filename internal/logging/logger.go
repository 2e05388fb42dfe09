package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// New creates the application logger.
// app: application name (e.g., "tftpd")
// level: one of "debug", "info", "warn", "error" (default: "info")
func New(app string, level string) *log.Entry {
	l := log.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(parseLevel(level))
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	return l.WithFields(log.Fields{
		"app": app,
		"pid": os.Getpid(),
	})
}

func parseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
