// Package applog is the gateway's leveled logger, grounded on the
// teacher's fs/log: the same level ladder (Debug < Info < Notice <
// Error, with Error always surfaced) backed by logrus the way
// fs/log.LogPrintf hands structured fields to logrus when JSON output
// is requested.
package applog

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Level mirrors fs/log.LogLevel's subset of syslog levels actually
// used by the gateway.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelNotice
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug:  "DEBUG",
	LevelInfo:   "INFO",
	LevelNotice: "NOTICE",
	LevelError:  "ERROR",
}

func (l Level) String() string { return levelNames[l] }

// current is the process-wide minimum level, set once at startup by
// cmd/gatewayd from configuration. Kept atomic since driver goroutines
// read it concurrently.
var current atomic.Int32

func init() {
	current.Store(int32(LevelNotice))
}

// SetLevel changes the minimum level that reaches the logger.
func SetLevel(l Level) { current.Store(int32(l)) }

// logger is the shared logrus instance. JSON mode is toggled by
// cmd/gatewayd through SetJSON from the LogJSON config setting.
var logger = logrus.New()

func init() {
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetOutput redirects logs, e.g. to a rotating file handle opened by
// the caller.
func SetOutput(w io.Writer) { logger.SetOutput(w) }

// SetJSON switches between the human text formatter and JSON, for
// log aggregation pipelines.
func SetJSON(enabled bool) {
	if enabled {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Fields is a structured-field bag attached to a log line, the
// gateway's analogue of fs/log.LogValue.
type Fields = logrus.Fields

func enabled(l Level) bool { return Level(current.Load()) <= l }

func entry(fields Fields) *logrus.Entry {
	if fields == nil {
		return logger.WithFields(logrus.Fields{})
	}
	return logger.WithFields(fields)
}

// Debugf logs verbose diagnostic detail: driver wire traffic, cache
// hits/misses, path resolution steps.
func Debugf(fields Fields, format string, args ...interface{}) {
	if enabled(LevelDebug) {
		entry(fields).Debugf(format, args...)
	}
}

// Infof logs routine operational events: mounts, tasks starting and
// finishing, config reloads.
func Infof(fields Fields, format string, args ...interface{}) {
	if enabled(LevelInfo) {
		entry(fields).Infof(format, args...)
	}
}

// Noticef logs events the operator should see by default: the gateway's
// quietest always-on level below errors, matching fs/log's Notice
// default.
func Noticef(fields Fields, format string, args ...interface{}) {
	if enabled(LevelNotice) {
		entry(fields).Warnf(format, args...)
	}
}

// Errorf logs failures. Always emitted regardless of level, per
// fs/log.Errorf's "can't be suppressed" comment.
func Errorf(fields Fields, format string, args ...interface{}) {
	entry(fields).Errorf(format, args...)
}
