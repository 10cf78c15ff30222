package logger

import zapLogger "github.com/zenghr0820/zap-logger"

var (
	logger zapLogger.Logger
)

type Logger interface {
	// 初始化日志
	Init(opts ...Option)
	// logger 的配置选项
	Options() *Options

	String() string
}

// Enabled 判断全局日志是否已经初始化
func Enabled() bool {
	return logger != nil
}
