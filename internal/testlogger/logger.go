package testlogger

import (
	"sync/atomic"
	"testing"
)

// Logger writes to the test log. Lines logged after the test finished are dropped.
type Logger struct {
	T    testing.TB
	done atomic.Bool
}

func (s *Logger) logf(format string, args ...any) {
	if s.done.Load() {
		return
	}
	s.T.Logf(format, args...)
}

func (s *Logger) Critical(err error, text, serviceName, rpcName string) {
	s.logf("CRITICAL %s in service %s in RPC %s: error %s", text, serviceName, rpcName, err)
}

func (s *Logger) Error(err error, text, serviceName, rpcName, value string) {
	s.logf("ERROR %s in service %s in RPC %s: '%s' error %s", text, serviceName, rpcName, value, err)
}

func (s *Logger) Warn(text string, serviceName string, rpcName string) {
	s.logf("WARN service %s; RPC %s; text '%s'", serviceName, rpcName, text)
}

func (s *Logger) Info(text string, serviceName string, rpcName string) {
	s.logf("INFO service %s; RPC %s; text '%s'", serviceName, rpcName, text)
}

func (s *Logger) Debug(text string, serviceName string, rpcName string) {
	s.logf("DEBUG service %s; RPC %s; text '%s'", serviceName, rpcName, text)
}

func New(t testing.TB) *Logger {
	l := &Logger{T: t}
	t.Cleanup(func() { l.done.Store(true) })
	return l
}
