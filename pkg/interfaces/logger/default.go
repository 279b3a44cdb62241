package logger

import (
	"os"

	"github.com/rs/zerolog"
)

var std = zerolog.New(os.Stderr).With().Timestamp().Logger()

// DefaultLogger writes through zerolog. The zero value logs to stderr.
type DefaultLogger struct {
	log *zerolog.Logger
}

func NewZerolog(l zerolog.Logger) *DefaultLogger {
	return &DefaultLogger{log: &l}
}

func (d *DefaultLogger) l() *zerolog.Logger {
	if d.log == nil {
		return &std
	}
	return d.log
}

func (d *DefaultLogger) Critical(err error, text, serviceName, rpcName string) {
	d.l().Error().Err(err).Bool("critical", true).Str("service", serviceName).Str("rpc", rpcName).Msg(text)
}

func (d *DefaultLogger) Error(err error, text, serviceName, rpcName, value string) {
	ev := d.l().Error().Err(err).Str("service", serviceName).Str("rpc", rpcName)
	if value != "" {
		ev = ev.Str("value", value)
	}
	ev.Msg(text)
}

func (d *DefaultLogger) Warn(text string, serviceName string, rpcName string) {
	d.l().Warn().Str("service", serviceName).Str("rpc", rpcName).Msg(text)
}

func (d *DefaultLogger) Info(text string, serviceName string, rpcName string) {
	d.l().Info().Str("service", serviceName).Str("rpc", rpcName).Msg(text)
}

func (d *DefaultLogger) Debug(text string, serviceName string, rpcName string) {
	d.l().Debug().Str("service", serviceName).Str("rpc", rpcName).Msg(text)
}
