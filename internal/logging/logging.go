// Package logging wraps zap with the small set of helpers this server's
// components use, so call sites read like the teacher's log.Printf calls
// but emit structured fields instead of interpolated strings.
package logging

import (
	"go.uber.org/zap"
)

// Logger is a component-scoped structured logger.
type Logger struct {
	z *zap.SugaredLogger
}

var base *zap.Logger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	base = l
}

// Named returns a Logger scoped to component, mirroring the teacher's
// "[REPLICATION]"/"[CLUSTER]" log prefixes.
func Named(component string) *Logger {
	return &Logger{z: base.Named(component).Sugar()}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.z.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.z.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.z.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.z.Errorw(msg, kv...) }

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	_ = base.Sync()
}
