package logger

// Logger is used by servers, clients and transports.
// Critical is for failures that happen before a call can be answered.
type Logger interface {
	Critical(err error, text, serviceName, rpcName string)
	Error(err error, text, serviceName, rpcName, value string)
	Warn(text, serviceName, rpcName string)
	Info(text, serviceName, rpcName string)
	Debug(text, serviceName, rpcName string)
}
