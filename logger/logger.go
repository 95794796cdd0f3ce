package logger

import (
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Logger interface is used to allow tests to inject custom loggers.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Errorf(string, ...interface{})
	WithField(key string, value interface{}) Logger
	Writer() io.Writer
	SetWriter(io.Writer)
}

type logger struct {
	*log.Entry
}

// NewLogger returns a new Logger instance backed by Logrus.
func NewLogger(level uint32) Logger {
	l := log.New()
	l.SetLevel(log.Level(level))
	l.Formatter = &log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
	return &logger{log.NewEntry(l)}
}

// NewDiscard returns a Logger that drops everything. Used by tests.
func NewDiscard() Logger {
	l := log.New()
	l.Out = io.Discard
	return &logger{log.NewEntry(l)}
}

func (l *logger) WithField(key string, value interface{}) Logger {
	return &logger{l.Entry.WithField(key, value)}
}

func (l *logger) Writer() io.Writer {
	return l.Logger.Out
}

func (l *logger) SetWriter(writer io.Writer) {
	l.Logger.Out = writer
}

// GetLogLevel converts the level string to its corresponding int value. It
// returns an error if the level is invalid.
func GetLogLevel(level string) (uint32, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return uint32(log.DebugLevel), nil
	case "info":
		return uint32(log.InfoLevel), nil
	case "warn":
		return uint32(log.WarnLevel), nil
	case "error":
		return uint32(log.ErrorLevel), nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}
