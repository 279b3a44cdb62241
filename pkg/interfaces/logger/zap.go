package logger

import (
	"go.uber.org/zap"
)

type zapLogger struct {
	log *zap.Logger
}

// NewZap adapts a zap logger.
func NewZap(l *zap.Logger) Logger {
	return &zapLogger{log: l}
}

func (z *zapLogger) Critical(err error, text, serviceName, rpcName string) {
	z.log.Error(text, zap.Error(err), zap.Bool("critical", true), zap.String("service", serviceName), zap.String("rpc", rpcName))
}

func (z *zapLogger) Error(err error, text, serviceName, rpcName, value string) {
	z.log.Error(text, zap.Error(err), zap.String("service", serviceName), zap.String("rpc", rpcName), zap.String("value", value))
}

func (z *zapLogger) Warn(text, serviceName, rpcName string) {
	z.log.Warn(text, zap.String("service", serviceName), zap.String("rpc", rpcName))
}

func (z *zapLogger) Info(text, serviceName, rpcName string) {
	z.log.Info(text, zap.String("service", serviceName), zap.String("rpc", rpcName))
}

func (z *zapLogger) Debug(text, serviceName, rpcName string) {
	z.log.Debug(text, zap.String("service", serviceName), zap.String("rpc", rpcName))
}
